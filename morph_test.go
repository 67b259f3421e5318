package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newBinaryFrom(shape Shape, data []uint8) *Binary {
	return &Binary{Shape: shape, Data: data}
}

func TestErodeInteriorForegroundSurvives(t *testing.T) {
	// 3x3 all-foreground block: the center pixel has all 8 neighbors
	// foreground, so one erosion pass under 8-connectivity leaves it set
	// while every edge/corner pixel (which touches the grid boundary) clears.
	b := newBinaryFrom(Shape{3, 3}, []uint8{
		1, 1, 1,
		1, 1, 1,
		1, 1, 1,
	})
	Erode(b, 1, int(Conn2DEight))

	require.Equal(t, BinaryForeground, b.Data[b.Shape.At(1, 1)])
	require.Equal(t, BinaryBackground, b.Data[b.Shape.At(0, 0)])
}

func TestErodeMultiPassUsesPrePassState(t *testing.T) {
	// A 5x5 foreground square: after one erosion pass the 3x3 core
	// survives; after two passes only the center pixel survives. Each pass
	// must read the previous pass's output, not partially-updated state.
	data := make([]uint8, 25)
	for i := range data {
		data[i] = BinaryForeground
	}
	b := newBinaryFrom(Shape{5, 5}, data)
	Erode(b, 2, int(Conn2DEight))

	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			want := BinaryBackground
			if r == 2 && c == 2 {
				want = BinaryForeground
			}
			require.Equalf(t, want, b.Data[b.Shape.At(r, c)], "at (%d,%d)", r, c)
		}
	}
}

func TestErodeSkipsNoErodeThenCoerceNoErodeCollapsesItAfterward(t *testing.T) {
	// A lone NoErode pixel surrounded by background: an ordinary foreground
	// pixel in the same spot would erode away (every neighbor is
	// background), but NoErode bypasses Erode entirely and only folds back
	// to foreground once CoerceNoErode runs after erosion finishes.
	b := newBinaryFrom(Shape{3, 3}, []uint8{
		0, 0, 0,
		0, NoErode, 0,
		0, 0, 0,
	})
	Erode(b, 1, int(Conn2DEight))
	require.Equal(t, NoErode, b.Data[b.Shape.At(1, 1)])

	CoerceNoErode(b)
	require.Equal(t, BinaryForeground, b.Data[b.Shape.At(1, 1)])
}

func TestErodeTreatsNoErodeNeighborAsNonBackground(t *testing.T) {
	// The center foreground pixel has four 4-neighbors: three foreground,
	// one NoErode. NoErode must count as solid for a neighbor's erosion
	// check, not as background, or the center would incorrectly erode.
	b := newBinaryFrom(Shape{3, 3}, []uint8{
		0, 1, 0,
		1, 1, NoErode,
		0, 1, 0,
	})
	Erode(b, 1, int(Conn2DFour))
	require.Equal(t, BinaryForeground, b.Data[b.Shape.At(1, 1)])
}

func TestDilateGrowsIntoBackground(t *testing.T) {
	b := newBinaryFrom(Shape{3, 3}, []uint8{
		0, 0, 0,
		0, 1, 0,
		0, 0, 0,
	})
	Dilate(b, 1, int(Conn2DFour))

	require.Equal(t, BinaryForeground, b.Data[b.Shape.At(0, 1)])
	require.Equal(t, BinaryForeground, b.Data[b.Shape.At(1, 0)])
	require.Equal(t, BinaryForeground, b.Data[b.Shape.At(1, 2)])
	require.Equal(t, BinaryForeground, b.Data[b.Shape.At(2, 1)])
	require.Equal(t, BinaryBackground, b.Data[b.Shape.At(0, 0)])
}

func TestDilateDoesNotGrowPastEdge(t *testing.T) {
	// A lone background pixel with no real foreground neighbor must stay
	// background: out-of-grid neighbors do not count as foreground.
	b := newBinaryFrom(Shape{1, 1}, []uint8{0})
	Dilate(b, 1, int(Conn2DEight))
	require.Equal(t, BinaryBackground, b.Data[0])
}

func TestOpenRemovesThinSpurs(t *testing.T) {
	// A single-pixel-wide diagonal line of length 3 under 4-connectivity
	// opening should fully erase: erosion removes it (no 4-neighbor is set)
	// before dilation has anything left to regrow.
	b := newBinaryFrom(Shape{3, 3}, []uint8{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	Open(b, 1, int(Conn2DFour))
	for _, v := range b.Data {
		require.Equal(t, BinaryBackground, v)
	}
}

func TestFillHolesFillsEnclosedAnnulus(t *testing.T) {
	// 5x5 ring with a 3x3 background region enclosed at the center.
	data := []uint8{
		1, 1, 1, 1, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 1, 1, 1, 1,
	}
	b := newBinaryFrom(Shape{5, 5}, data)
	FillHoles(b)

	for i, v := range b.Data {
		require.Equalf(t, BinaryForeground, v, "index %d", i)
	}
}

func TestFillHolesLeavesBoundaryTouchingBackgroundAlone(t *testing.T) {
	// A "C" shape: the background channel touches the grid edge, so it must
	// not be filled.
	data := []uint8{
		1, 1, 1,
		1, 0, 0,
		1, 1, 1,
	}
	b := newBinaryFrom(Shape{3, 3}, data)
	FillHoles(b)

	require.Equal(t, BinaryBackground, b.Data[b.Shape.At(1, 1)])
	require.Equal(t, BinaryBackground, b.Data[b.Shape.At(1, 2)])
}

func TestFillHolesPreservesBlank(t *testing.T) {
	b := newBinaryFrom(Shape{3, 3}, []uint8{
		1, 1, 1,
		1, BlankU8, 1,
		1, 1, 1,
	})
	FillHoles(b)
	require.Equal(t, BlankU8, b.Data[b.Shape.At(1, 1)])
}
