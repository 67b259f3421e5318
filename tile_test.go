package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTileGridRemainderTile(t *testing.T) {
	grid, err := NewTileGrid(Shape{5, 5}, Shape{2, 2})
	require.NoError(t, err)
	require.Equal(t, []int{3, 3}, grid.CountPerAxis)
	require.Equal(t, 9, grid.TotalTiles)

	start, end := grid.TileBounds(grid.TotalTiles - 1)
	require.Equal(t, []int{4, 4}, start)
	require.Equal(t, []int{5, 5}, end) // clipped remainder tile
}

func TestNewTileGridRejectsMismatchedNDim(t *testing.T) {
	_, err := NewTileGrid(Shape{5, 5}, Shape{2, 2, 2})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTileIndexForCoordInvertsTileBounds(t *testing.T) {
	grid, err := NewTileGrid(Shape{10, 10}, Shape{3, 3})
	require.NoError(t, err)

	for tileIdx := 0; tileIdx < grid.TotalTiles; tileIdx++ {
		start, end := grid.TileBounds(tileIdx)
		mid := make([]int, len(start))
		for i := range start {
			mid[i] = (start[i] + end[i] - 1) / 2
		}
		require.Equal(t, tileIdx, grid.TileIndexForCoord(mid))
	}
}

func TestForEachTileVisitsEveryTileExactlyOnce(t *testing.T) {
	grid, err := NewTileGrid(Shape{6, 6}, Shape{2, 2})
	require.NoError(t, err)
	engine := NewTileEngine(grid, 4)

	visited := make([]int, grid.TotalTiles)
	err = engine.ForEachTile(context.Background(), func(_ context.Context, tileIdx int, _, _ []int) error {
		visited[tileIdx]++
		return nil
	})
	require.NoError(t, err)
	for i, v := range visited {
		require.Equalf(t, 1, v, "tile %d visited %d times", i, v)
	}
}

func TestForEachTilePropagatesFirstError(t *testing.T) {
	grid, err := NewTileGrid(Shape{4, 4}, Shape{2, 2})
	require.NoError(t, err)
	engine := NewTileEngine(grid, 2)

	boom := ErrShapeMismatch
	err = engine.ForEachTile(context.Background(), func(_ context.Context, tileIdx int, _, _ []int) error {
		if tileIdx == 0 {
			return boom
		}
		return nil
	})
	require.Error(t, err)
}

func TestCopyTileRoundTrip(t *testing.T) {
	src := newBinaryFrom(Shape{4, 4}, []uint8{
		1, 1, 0, 0,
		1, 1, 0, 0,
		0, 0, 1, 1,
		0, 0, 1, 1,
	})
	start, end := []int{0, 0}, []int{2, 2}
	tile := CopyTileToContiguous(src, start, end)
	require.Equal(t, []uint8{1, 1, 1, 1}, tile.Data)

	dst := NewBinary(Shape{4, 4})
	CopyContiguousToTile(dst, tile, start, end)
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			require.Equal(t, BinaryForeground, dst.Data[dst.Shape.At(r, c)])
		}
	}
	require.Equal(t, BinaryBackground, dst.Data[dst.Shape.At(3, 3)])
}
