// Package encoder is the Encoder Driver (spec §4.5): pure logic for
// materializing keyframe inputs from reference images, assembling the
// ffmpeg-class command line, and locating the encoder binary. Supervising
// the spawned subprocess (start/poll/terminate, the active-processes map)
// is the scheduler's job, because only it holds the cancellation signal
// and the mutex-guarded process map (spec §4.4, §5).
package encoder

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/imagestore"
)

const (
	minKeyframes = 2
	maxKeyframes = 24

	minRequiredBytes = 150 * 1024 * 1024 // 150 MiB, spec §4.5
)

// Driver builds ffmpeg invocations and prepares their inputs.
type Driver struct {
	configuredBin string
}

// New returns a Driver that prefers configuredBin (typically "ffmpeg" or an
// operator-supplied absolute path) when resolving the binary.
func New(configuredBin string) *Driver {
	return &Driver{configuredBin: configuredBin}
}

// ResolveBinary prefers the binary on the executable search path, then
// falls back to well-known package-manager install locations before
// giving up (spec §4.5 "Binary resolution").
func (d *Driver) ResolveBinary() (string, error) {
	if path, err := exec.LookPath(d.configuredBin); err == nil {
		return path, nil
	}

	candidates := []string{
		"/opt/homebrew/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	matches, _ := filepath.Glob("/usr/lib/*/ffmpeg")
	if len(matches) > 0 {
		return matches[0], nil
	}

	return "", apperr.Service(nil,
		"ffmpeg binary not found; install ffmpeg and ensure it is on PATH")
}

// KeyframePlan is the result of PrepareKeyframes: the printf-style input
// pattern ffmpeg reads frames from, and how many were written.
type KeyframePlan struct {
	Pattern string
	Count   int
}

// keyframeCount clamps duration to [minKeyframes, maxKeyframes] (spec §4.5).
func keyframeCount(durationSec float64) int {
	n := int(durationSec)
	if n < minKeyframes {
		return minKeyframes
	}
	if n > maxKeyframes {
		return maxKeyframes
	}
	return n
}

// PrepareKeyframes resolves each reference image to a source path, chooses
// a keyframe count from duration, and copies sources into
// "<tempDir>/keyframe_%05d.png" in the order strict_lock dictates (spec
// §4.5, §8 scenario S7).
func PrepareKeyframes(images imagestore.Store, referenceNames []string, tempDir string, durationSec float64, strictLock bool) (KeyframePlan, error) {
	n := len(referenceNames)
	if n == 0 {
		return KeyframePlan{}, apperr.Validation("profile has no reference images")
	}

	sourcePaths := make([]string, n)
	for i, name := range referenceNames {
		path, err := images.Resolve(name)
		if err != nil {
			return KeyframePlan{}, apperr.Validation("invalid reference image %q: %v", name, err)
		}
		if !images.Exists(name) {
			return KeyframePlan{}, apperr.Validation("reference image %q no longer exists", name)
		}
		sourcePaths[i] = path
	}

	count := keyframeCount(durationSec)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return KeyframePlan{}, apperr.Service(err, "failed to create temp directory %q", tempDir)
	}

	for i := 0; i < count; i++ {
		var srcIdx int
		if strictLock {
			srcIdx = 0
		} else {
			srcIdx = i % n
		}
		dst := filepath.Join(tempDir, fmt.Sprintf("keyframe_%05d.png", i))
		if err := copyFile(sourcePaths[srcIdx], dst); err != nil {
			return KeyframePlan{}, apperr.Validation("failed to materialize keyframe from %q: %v", referenceNames[srcIdx], err)
		}
	}

	return KeyframePlan{
		Pattern: filepath.Join(tempDir, "keyframe_%05d.png"),
		Count:   count,
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Params is the effective, defaulted generation request an encode runs
// with (spec §4.4 step 4).
type Params struct {
	DurationSec float64
	FPS         int
	Width       int
	Height      int
}

// BuildArgs assembles the ffmpeg-class command line (spec §4.5 "Command
// assembly"). The caller owns starting and supervising the process.
func BuildArgs(plan KeyframePlan, p Params, outputPath string) []string {
	inputFPS := float64(plan.Count) / maxFloat(p.DurationSec, 1)
	if inputFPS < 1.0 {
		inputFPS = 1.0
	}

	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease, pad=%d:%d:(ow-iw)/2:(oh-ih)/2, format=yuv420p, minterpolate=fps=%d:mi_mode=mci:mc_mode=aobmc:vsbmc=1",
		p.Width, p.Height, p.Width, p.Height, p.FPS,
	)

	return []string{
		"-r", fmt.Sprintf("%.4f", inputFPS),
		"-i", plan.Pattern,
		"-vf", filter,
		"-t", fmt.Sprintf("%g", p.DurationSec),
		"-r", fmt.Sprintf("%d", p.FPS),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// EstimateRequiredBytes estimates disk space an encode needs (spec §4.5
// "Disk pre-flight").
func EstimateRequiredBytes(p Params) uint64 {
	estimate := uint64(float64(p.Width) * float64(p.Height) * float64(p.FPS) * maxFloat(p.DurationSec, 1) / 2)
	if estimate < minRequiredBytes {
		return minRequiredBytes
	}
	return estimate
}

// CheckDiskSpace fails with a Service error naming free/required MiB when
// the outputs filesystem doesn't have enough room.
func CheckDiskSpace(outputsDir string, p Params) error {
	usage, err := disk.Usage(outputsDir)
	if err != nil {
		return apperr.Service(err, "failed to stat free space on %q", outputsDir)
	}

	required := EstimateRequiredBytes(p)
	if usage.Free < required {
		return apperr.Service(nil,
			"insufficient disk space: %d MiB free, %d MiB required",
			usage.Free/1024/1024, required/1024/1024)
	}
	return nil
}
