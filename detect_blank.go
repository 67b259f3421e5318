package detect

import "math"

// detect_blank.go collects the blank/no-observation sentinel handling for
// Image, Binary, and Labels, the triad spec.md §3 defines (NaN for Image,
// BLANK_U8 for Binary, LabelBlank for Labels). Grounded on the teacher's
// nulls.go, which centralizes per-field null-filling for a beam record;
// adapted here to a single triad instead of nulls.go's many beam-attribute
// sentinel constants, since the core only ever needs one blank value per
// grid kind.

// BlanksFromImage derives a Binary mask from img where every NaN pixel is
// BlankU8 and every other pixel is BinaryBackground, the seed a Thresholder
// starts from before any foreground pixel is set.
func BlanksFromImage(img *Image) *Binary {
	out := NewBinary(img.Shape)
	for i, v := range img.Data {
		if isNaN32(v) {
			out.Data[i] = BlankU8
		}
	}
	return out
}

// CountBlank reports how many pixels in b are BlankU8.
func CountBlank(b *Binary) int {
	n := 0
	for _, v := range b.Data {
		if v == BlankU8 {
			n++
		}
	}
	return n
}

// PropagateBlankFromImage overwrites every pixel in b that corresponds to a
// NaN pixel in img with BlankU8, regardless of what b previously held there.
// The pipeline runs it on the eroded mask, so that mask carries BlankU8 on
// every NaN pixel whatever the earlier steps wrote there.
func PropagateBlankFromImage(b *Binary, img *Image) error {
	if len(b.Data) != len(img.Data) {
		return ErrShapeMismatch
	}
	for i, v := range img.Data {
		if isNaN32(v) {
			b.Data[i] = BlankU8
		}
	}
	return nil
}

// LabelsBlankFromImage marks LabelBlank on every pixel of l that corresponds
// to a NaN pixel in img, leaving every other pixel untouched.
func LabelsBlankFromImage(l *Labels, img *Image) error {
	if len(l.Data) != len(img.Data) {
		return ErrShapeMismatch
	}
	for i, v := range img.Data {
		if isNaN32(v) {
			l.Data[i] = LabelBlank
		}
	}
	return nil
}

// blankFloat64 is a float64 blank sentinel that isBlankFloat64 recognises
// alongside NaN. ComputeSN does not write it: a record whose S/N is not
// computed keeps a zero Brightness and a nil Centroid.
const blankFloat64 = math.MaxFloat64

func isBlankFloat64(v float64) bool { return math.IsNaN(v) || v == blankFloat64 }
