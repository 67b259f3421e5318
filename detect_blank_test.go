package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func nan32() float32 {
	var z float32
	return z / z
}

func TestBlanksFromImageMarksNaNOnly(t *testing.T) {
	img := &Image{Shape: Shape{1, 3}, Data: []float32{1, nan32(), 2}}
	b := BlanksFromImage(img)
	require.Equal(t, BinaryBackground, b.Data[0])
	require.Equal(t, BlankU8, b.Data[1])
	require.Equal(t, BinaryBackground, b.Data[2])
	require.Equal(t, 1, CountBlank(b))
}

func TestPropagateBlankFromImageOverwritesPriorState(t *testing.T) {
	img := &Image{Shape: Shape{1, 2}, Data: []float32{nan32(), 1}}
	b := newBinaryFrom(Shape{1, 2}, []uint8{BinaryForeground, BinaryForeground})
	require.NoError(t, PropagateBlankFromImage(b, img))
	require.Equal(t, BlankU8, b.Data[0])
	require.Equal(t, BinaryForeground, b.Data[1])
}

func TestPropagateBlankFromImageRejectsLengthMismatch(t *testing.T) {
	img := &Image{Shape: Shape{1, 2}, Data: []float32{0, 0}}
	b := newBinaryFrom(Shape{1, 3}, []uint8{0, 0, 0})
	require.ErrorIs(t, PropagateBlankFromImage(b, img), ErrShapeMismatch)
}

func TestLabelsBlankFromImage(t *testing.T) {
	img := &Image{Shape: Shape{1, 2}, Data: []float32{nan32(), 1}}
	l := &Labels{Shape: Shape{1, 2}, Data: []Label{1, 1}}
	require.NoError(t, LabelsBlankFromImage(l, img))
	require.True(t, l.Data[0].IsBlank())
	require.Equal(t, Label(1), l.Data[1])
}

func TestIsBlankFloat64(t *testing.T) {
	require.True(t, isBlankFloat64(blankFloat64))
	require.False(t, isBlankFloat64(1.0))
}
