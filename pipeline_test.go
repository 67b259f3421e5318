package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func setBlock(data []float32, shape Shape, rStart, rEnd, cStart, cEnd int, val float32) {
	for r := rStart; r < rEnd; r++ {
		for c := cStart; c < cEnd; c++ {
			data[shape.At(r, c)] = val
		}
	}
}

func TestRunAllSkyImageHasNoCalibrationSignal(t *testing.T) {
	shape := Shape{9, 9}
	img := &Image{Shape: shape, Data: make([]float32, shape.Size())}

	cfg := DefaultConfig(2)
	cfg.Dthresh = 2.0

	grid, err := NewTileGrid(shape, shape)
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	pipeline := NewDetectionPipeline(cfg, nil, nil)
	_, err = pipeline.Run(context.Background(), img, shape, sky, std)
	require.ErrorIs(t, err, ErrEmptyCalibrationSet)
}

func TestRunDetectsBrightSquareAndCullsNoisePeak(t *testing.T) {
	shape := Shape{13, 13}
	data := make([]float32, shape.Size())

	// A small noise peak, large enough to survive one fill/open pass during
	// pseudo-detection calibration but not two erosions, so it seeds the
	// sky-side S/N calibration without ever becoming an initial detection.
	setBlock(data, shape, 0, 3, 0, 3, 5)
	// A real signal block, large enough to survive two erosions and still
	// leave a core big enough to survive the internal calibration open pass.
	setBlock(data, shape, 6, 13, 6, 13, 100)
	// A blank stripe, disjoint from both blocks, to confirm blank pixels
	// propagate through to the final labeled result untouched.
	nan := float32(0)
	nan = nan / nan
	for c := 0; c < 13; c++ {
		data[shape.At(4, c)] = nan
	}

	img := &Image{Shape: shape, Data: data}

	cfg := DefaultConfig(2)
	cfg.Dthresh = 2.0
	cfg.NoErodeThresh = 1000 // keep NoErode out of this scenario; exercised separately
	cfg.DetSNMinArea = 1
	cfg.Dilate = 0

	grid, err := NewTileGrid(shape, shape)
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	pipeline := NewDetectionPipeline(cfg, nil, nil)
	result, err := pipeline.Run(context.Background(), img, shape, sky, std)
	require.NoError(t, err)

	require.Equal(t, 1, result.Summary.NumFinal)

	for c := 0; c < 13; c++ {
		require.Truef(t, result.Labels.Data[shape.At(4, c)].IsBlank(), "column %d", c)
	}

	// the survivor must sit inside the bright block, not the noise peak.
	survivorSeen := false
	for r := 6; r < 13; r++ {
		for c := 6; c < 13; c++ {
			if result.Labels.Data[shape.At(r, c)].IsObject() {
				survivorSeen = true
			}
		}
	}
	require.True(t, survivorSeen)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			require.Falsef(t, result.Labels.Data[shape.At(r, c)].IsObject(), "noise peak at (%d,%d) should have been culled", r, c)
		}
	}
}

func TestRunNoErodeBypassesErosionOnIsolatedBrightCore(t *testing.T) {
	// A 1x1 core so bright it clears NoErodeThresh, isolated inside a 9x9
	// field: an ordinary foreground pixel this isolated would be eroded away
	// by the default two erosion passes, but NoErode lets it bypass Erode
	// entirely and collapse back to foreground once erosion is done,
	// surviving into the initial label. A faint 3x3 corner patch seeds the
	// sky-side S/N calibration so Run can complete.
	shape := Shape{9, 9}
	data := make([]float32, shape.Size())
	setBlock(data, shape, 0, 3, 0, 3, 5)
	data[shape.At(4, 4)] = 50

	img := &Image{Shape: shape, Data: data}

	cfg := DefaultConfig(2)
	cfg.Dthresh = 2.0
	cfg.NoErodeThresh = 10.0
	cfg.OpeningDepth = 0 // isolate Erode's own bypass behavior from Open's further erosion
	cfg.DetSNMinArea = 1
	cfg.Dilate = 0

	grid, err := NewTileGrid(shape, shape)
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	var eroded *CheckImage
	obs := ObserverFunc(func(c CheckImage) {
		if c.Stage == StageEroded {
			cp := c
			eroded = &cp
		}
	})

	pipeline := NewDetectionPipeline(cfg, nil, obs)
	_, err = pipeline.Run(context.Background(), img, shape, sky, std)
	require.NoError(t, err)
	require.NotNil(t, eroded)
	require.Equal(t, BinaryForeground, eroded.Binary.Data[shape.At(4, 4)])
}

func TestRunAbortsAfterConfiguredCheckStage(t *testing.T) {
	shape := Shape{13, 13}
	data := make([]float32, shape.Size())
	setBlock(data, shape, 0, 3, 0, 3, 5)
	setBlock(data, shape, 6, 13, 6, 13, 100)
	img := &Image{Shape: shape, Data: data}

	cfg := DefaultConfig(2)
	cfg.Dthresh = 2.0
	cfg.NoErodeThresh = 1000
	cfg.DetSNMinArea = 1
	cfg.Dilate = 0
	cfg.AbortAfterCheckStage = StageOpenedAndLabeled

	grid, err := NewTileGrid(shape, shape)
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	seen := make(map[Stage]int)
	obs := ObserverFunc(func(c CheckImage) { seen[c.Stage]++ })

	pipeline := NewDetectionPipeline(cfg, nil, obs)
	result, err := pipeline.Run(context.Background(), img, shape, sky, std)
	require.ErrorIs(t, err, ErrAbortedAfterCheck)
	require.Nil(t, result)

	require.Greater(t, seen[StageOpenedAndLabeled], 0)
	require.Equal(t, 0, seen[StageDthreshOnSky])
}

func TestRunSNTablesAvailableAfterSuccessfulRun(t *testing.T) {
	shape := Shape{13, 13}
	data := make([]float32, shape.Size())
	setBlock(data, shape, 0, 3, 0, 3, 5)
	setBlock(data, shape, 6, 13, 6, 13, 100)
	img := &Image{Shape: shape, Data: data}

	cfg := DefaultConfig(2)
	cfg.Dthresh = 2.0
	cfg.NoErodeThresh = 1000
	cfg.DetSNMinArea = 1
	cfg.Dilate = 0

	grid, err := NewTileGrid(shape, shape)
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	pipeline := NewDetectionPipeline(cfg, nil, nil)
	require.Nil(t, pipeline.SNTables())

	_, err = pipeline.Run(context.Background(), img, shape, sky, std)
	require.NoError(t, err)

	tables := pipeline.SNTables()
	require.Contains(t, tables, "sky")
	require.Contains(t, tables, "det")
	require.Contains(t, tables, "final")
}

func TestRunObserverSeesEveryStage(t *testing.T) {
	shape := Shape{13, 13}
	data := make([]float32, shape.Size())
	setBlock(data, shape, 0, 3, 0, 3, 5)
	setBlock(data, shape, 6, 13, 6, 13, 100)
	img := &Image{Shape: shape, Data: data}

	cfg := DefaultConfig(2)
	cfg.Dthresh = 2.0
	cfg.NoErodeThresh = 1000 // keep NoErode out of this scenario; exercised separately
	cfg.DetSNMinArea = 1
	cfg.Dilate = 0

	grid, err := NewTileGrid(shape, shape)
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	seen := make(map[Stage]int)
	obs := ObserverFunc(func(c CheckImage) { seen[c.Stage]++ })

	pipeline := NewDetectionPipeline(cfg, nil, obs)
	_, err = pipeline.Run(context.Background(), img, shape, sky, std)
	require.NoError(t, err)

	for _, stage := range []Stage{
		StageThresholded, StageEroded, StageOpenedAndLabeled,
		StageDthreshOnSky, StageHolesFilled, StageOpened, StagePseudosForSN,
		StageDthreshOnDet, StageTruePseudos, StageDetectionFinal,
	} {
		require.Greaterf(t, seen[stage], 0, "stage %s never observed", stage)
	}
}
