package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/imagestore"
)

func keyframeName(i int) string {
	return fmt.Sprintf("keyframe_%05d.png", i)
}

func TestKeyframeCountClamped(t *testing.T) {
	require.Equal(t, minKeyframes, keyframeCount(0.5))
	require.Equal(t, 5, keyframeCount(5.0))
	require.Equal(t, maxKeyframes, keyframeCount(40))
}

func writeImage(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
}

// TestPrepareKeyframesStrictLock exercises spec §8 scenario S7.
func TestPrepareKeyframesStrictLock(t *testing.T) {
	imgDir := t.TempDir()
	writeImage(t, imgDir, "r0.png")
	writeImage(t, imgDir, "r1.png")
	writeImage(t, imgDir, "r2.png")
	images := imagestore.NewFSStore(imgDir)

	tempDir := t.TempDir()
	plan, err := PrepareKeyframes(images, []string{"r0.png", "r1.png", "r2.png"}, tempDir, 5, true)
	require.NoError(t, err)
	require.Equal(t, 5, plan.Count)

	for i := 0; i < 5; i++ {
		content, err := os.ReadFile(filepath.Join(tempDir, keyframeName(i)))
		require.NoError(t, err)
		require.Equal(t, "r0.png", string(content))
	}
}

func TestPrepareKeyframesAlternating(t *testing.T) {
	imgDir := t.TempDir()
	writeImage(t, imgDir, "r0.png")
	writeImage(t, imgDir, "r1.png")
	writeImage(t, imgDir, "r2.png")
	images := imagestore.NewFSStore(imgDir)

	tempDir := t.TempDir()
	plan, err := PrepareKeyframes(images, []string{"r0.png", "r1.png", "r2.png"}, tempDir, 5, false)
	require.NoError(t, err)
	require.Equal(t, 5, plan.Count)

	expected := []string{"r0.png", "r1.png", "r2.png", "r0.png", "r1.png"}
	for i, want := range expected {
		content, err := os.ReadFile(filepath.Join(tempDir, keyframeName(i)))
		require.NoError(t, err)
		require.Equal(t, want, string(content))
	}
}

func TestPrepareKeyframesMissingReference(t *testing.T) {
	imgDir := t.TempDir()
	writeImage(t, imgDir, "r0.png")
	images := imagestore.NewFSStore(imgDir)

	_, err := PrepareKeyframes(images, []string{"r0.png", "missing.png"}, t.TempDir(), 5, false)
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPrepareKeyframesNoReferences(t *testing.T) {
	images := imagestore.NewFSStore(t.TempDir())
	_, err := PrepareKeyframes(images, nil, t.TempDir(), 5, true)
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestBuildArgsIncludesFilterChain(t *testing.T) {
	plan := KeyframePlan{Pattern: "/tmp/x/keyframe_%05d.png", Count: 5}
	params := Params{DurationSec: 5, FPS: 24, Width: 640, Height: 480}

	args := BuildArgs(plan, params, "/tmp/out.mp4")
	joined := argsString(args)

	require.Contains(t, joined, "-i /tmp/x/keyframe_%05d.png")
	require.Contains(t, joined, "scale=640:480:force_original_aspect_ratio=decrease")
	require.Contains(t, joined, "minterpolate=fps=24")
	require.Contains(t, joined, "-c:v libx264")
	require.Contains(t, joined, "-pix_fmt yuv420p")
	require.Contains(t, joined, "-y")
}

func TestEstimateRequiredBytesFloor(t *testing.T) {
	tiny := Params{DurationSec: 1, FPS: 4, Width: 256, Height: 256}
	require.Equal(t, uint64(minRequiredBytes), EstimateRequiredBytes(tiny))

	large := Params{DurationSec: 30, FPS: 60, Width: 1920, Height: 1920}
	require.Greater(t, EstimateRequiredBytes(large), uint64(minRequiredBytes))
}

func argsString(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
