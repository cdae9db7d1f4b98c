package capture

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waterlevel/internal/calibration"
	"github.com/banshee-data/waterlevel/internal/camera"
	"github.com/banshee-data/waterlevel/internal/framebuffer"
	"github.com/banshee-data/waterlevel/internal/measurement"
	"github.com/banshee-data/waterlevel/internal/testutil"
	"github.com/banshee-data/waterlevel/internal/vision"
)

// markerSource yields frames with the marker's top edge at rows[i].
type markerSource struct {
	rows []int
	next int
}

func (s *markerSource) Read(context.Context) (*vision.Frame, error) {
	if s.next >= len(s.rows) {
		return nil, camera.ErrEndOfStream
	}
	row := s.rows[s.next]
	s.next++
	mat := testutil.MarkerMat(300, 1120, image.Rect(210, row, 250, row+8))
	return vision.NewFrame(mat, uint64(s.next), time.Unix(int64(s.next), 0)), nil
}

func (s *markerSource) Close() error { return nil }

func TestPipeline_ReferenceScenario(t *testing.T) {
	curve, err := calibration.New([]calibration.Point{
		{Row: 1080, Level: 1.40},
		{Row: 1045, Level: 1.50},
	}, 0)
	require.NoError(t, err)

	cfg := vision.DefaultDetectorConfig()
	cfg.ColumnStart, cfg.ColumnEnd = 200, 260
	det, err := vision.NewDetector(cfg, curve)
	require.NoError(t, err)

	// Eleven frames at row 1062, then one below the calibrated band.
	rows := make([]int, 12)
	for i := range rows {
		rows[i] = 1062
	}
	rows[11] = 1090

	buf := framebuffer.New[*vision.Frame](10)
	var cell measurement.Cell
	err = New(&markerSource{rows: rows}, det, buf, &cell).Run(context.Background())
	require.ErrorIs(t, err, ErrSourceExhausted)

	r, ok := cell.Load()
	require.True(t, ok)
	assert.Equal(t, 1062, r.Row)
	assert.InDelta(t, 1.45, r.Level, 0.005)
	assert.Equal(t, time.Unix(11, 0), r.At, "row 1090 must not overwrite the last good reading")

	var seqs []uint64
	for {
		f, err := buf.Pop()
		if err != nil {
			assert.ErrorIs(t, err, framebuffer.ErrClosed)
			break
		}
		seqs = append(seqs, f.Seq)
		f.Close()
	}
	assert.Equal(t, []uint64{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, seqs)
}
