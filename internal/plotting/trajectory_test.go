package plotting

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holotrack/internal/pose"
	"github.com/banshee-data/holotrack/internal/posedb"
)

func trajectory(n int) []posedb.DeltaPose {
	out := make([]posedb.DeltaPose, n)
	for i := range out {
		out[i] = posedb.DeltaPose{
			SessionID: "s",
			Seq:       uint64(i),
			State:     "tracking",
			Pose:      pose.Translation(float32(i), float32(-i), 2*float32(i)),
		}
	}
	return out
}

func TestTranslationPlot_Empty(t *testing.T) {
	t.Parallel()
	_, err := TranslationPlot(nil, "empty")
	assert.True(t, errors.Is(err, ErrNoPoses))
	assert.ErrorIs(t, SaveTranslationPNG(filepath.Join(t.TempDir(), "x.png"), nil, "x"), ErrNoPoses)
}

func TestTranslationPlot_Series(t *testing.T) {
	t.Parallel()
	p, err := TranslationPlot(trajectory(10), "session s")
	require.NoError(t, err)
	assert.Equal(t, "session s", p.Title.Text)
	assert.Equal(t, 0.0, p.X.Min)
	assert.Equal(t, 9.0, p.X.Max)
	assert.Equal(t, -9.0, p.Y.Min)
	assert.Equal(t, 18.0, p.Y.Max)
}

func TestWriteTranslationPNG(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteTranslationPNG(&buf, trajectory(20), "trajectory"))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestSaveTranslationPNG(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trajectory.png")
	require.NoError(t, SaveTranslationPNG(path, trajectory(5), "trajectory"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
