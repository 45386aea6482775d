package store

import "time"

// isoLayout is ISO-8601 with millisecond precision (spec §3: "all
// timestamps are textual ISO-8601 with millisecond precision").
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// FormatTime exposes the store's ISO-8601 timestamp format to callers
// outside the package that need to pass a "now" value into a query
// function taking a pre-formatted string (e.g. scheduler's restart
// recovery and cancel_job transitions).
func FormatTime(t time.Time) string {
	return formatTime(t)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(isoLayout, s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
