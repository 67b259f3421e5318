package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantileThresholdMarksAboveSigma(t *testing.T) {
	img := &Image{Shape: Shape{2, 2}, Data: []float32{0, 5, 0, 0}}
	grid, err := NewTileGrid(img.Shape, Shape{2, 2})
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	out, err := QuantileThresholder{}.Threshold(img, grid, sky, std, 2.0, 100.0)
	require.NoError(t, err)

	require.Equal(t, BinaryForeground, out.Data[out.Shape.At(0, 1)])
	require.Equal(t, BinaryBackground, out.Data[out.Shape.At(0, 0)])
}

func TestQuantileThresholdMarksNoErodeAboveStricterSigma(t *testing.T) {
	img := &Image{Shape: Shape{2, 2}, Data: []float32{0, 5, 1, 0}}
	grid, err := NewTileGrid(img.Shape, Shape{2, 2})
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	out, err := QuantileThresholder{}.Threshold(img, grid, sky, std, 0.5, 3.0)
	require.NoError(t, err)

	require.Equal(t, NoErode, out.Data[out.Shape.At(0, 1)])    // z=5, clears no-erode threshold
	require.Equal(t, BinaryForeground, out.Data[out.Shape.At(1, 0)]) // z=1, clears dthresh only
	require.Equal(t, BinaryBackground, out.Data[out.Shape.At(0, 0)])
}

func TestQuantileThresholdAllSkyStaysBackground(t *testing.T) {
	img := &Image{Shape: Shape{2, 2}, Data: []float32{0.1, -0.1, 0.05, -0.05}}
	grid, err := NewTileGrid(img.Shape, Shape{2, 2})
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	out, err := QuantileThresholder{}.Threshold(img, grid, sky, std, 5.0, 100.0)
	require.NoError(t, err)
	for _, v := range out.Data {
		require.Equal(t, BinaryBackground, v)
	}
}

func TestQuantileThresholdNaNPixelIsBlank(t *testing.T) {
	nan := float32(0)
	nan = nan / nan
	img := &Image{Shape: Shape{1, 2}, Data: []float32{nan, 0}}
	grid, err := NewTileGrid(img.Shape, Shape{1, 2})
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{1}}

	out, err := QuantileThresholder{}.Threshold(img, grid, sky, std, 0.0, 100.0)
	require.NoError(t, err)
	require.Equal(t, BlankU8, out.Data[0])
}

func TestQuantileThresholdNonPositiveStdPropagatesBlankToWholeTile(t *testing.T) {
	img := &Image{Shape: Shape{2, 2}, Data: []float32{1, 2, 3, 4}}
	grid, err := NewTileGrid(img.Shape, Shape{2, 2})
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0}}
	std := &StdMap{Grid: grid, Data: []float32{-1}} // invalid, std must be > 0

	out, err := QuantileThresholder{}.Threshold(img, grid, sky, std, 0.0, 100.0)
	require.NoError(t, err)
	for _, v := range out.Data {
		require.Equal(t, BlankU8, v)
	}
}

func TestQuantileThresholdRejectsTileCountMismatch(t *testing.T) {
	img := &Image{Shape: Shape{2, 2}, Data: []float32{0, 0, 0, 0}}
	grid, err := NewTileGrid(img.Shape, Shape{2, 2})
	require.NoError(t, err)
	sky := &SkyMap{Grid: grid, Data: []float32{0, 0}} // wrong length
	std := &StdMap{Grid: grid, Data: []float32{1}}

	_, err = QuantileThresholder{}.Threshold(img, grid, sky, std, 0.0, 100.0)
	require.ErrorIs(t, err, ErrShapeMismatch)
}
