package detect

// threshold.go implements the Thresholder contract (spec.md §4.4): turning
// an Image plus per-tile sky/std statistics into an initial Binary detection
// mask. The interface is the stable boundary; only QuantileThresholder's
// body is grounded in detection.c's per-tile compare-against-dthresh logic
// (detection_initial), since spec.md §4.4 explicitly leaves the statistic
// the caller thresholds on as pluggable, the way the teacher leaves its
// tiledb filter stack pluggable behind AddFilters' attr-tag dispatch.

// Thresholder turns an Image, given per-tile Sky and Std maps over the same
// TileGrid, into a Binary mask of the same shape as img. Implementations
// decide what statistic to compare against (quantile-above-sky, absolute
// cut, etc); the pipeline only depends on this contract. noErodeThresh is
// the no-erode quantile (spec.md §4.4): a pixel clearing it is written as
// the transient NoErode sentinel instead of ordinary foreground.
type Thresholder interface {
	Threshold(img *Image, grid *TileGrid, sky *SkyMap, std *StdMap, dthresh, noErodeThresh float64) (*Binary, error)
}

// QuantileThresholder marks a pixel foreground when it exceeds its tile's
// sky value by more than dthresh standard deviations:
//
//	(pixel - sky[tile]) / std[tile] > dthresh
//
// and marks it NoErode instead when that same z-score clears the stricter
// noErodeThresh, so the pixel bypasses the next Erode call entirely.
// NaN pixels become BlankU8. A tile with non-finite sky, or with non-finite
// or non-positive std, propagates BlankU8 to every pixel in that tile, since
// no meaningful threshold can be
// derived there (detection_initial's blank-propagation rule).
type QuantileThresholder struct{}

// Threshold implements Thresholder.
func (QuantileThresholder) Threshold(img *Image, grid *TileGrid, sky *SkyMap, std *StdMap, dthresh, noErodeThresh float64) (*Binary, error) {
	if img.Shape.NDim() != grid.ImageShape.NDim() {
		return nil, ErrShapeMismatch
	}
	for i := range img.Shape {
		if img.Shape[i] != grid.ImageShape[i] {
			return nil, ErrShapeMismatch
		}
	}
	if len(sky.Data) != grid.TotalTiles || len(std.Data) != grid.TotalTiles {
		return nil, ErrShapeMismatch
	}

	out := NewBinary(img.Shape)

	for t := 0; t < grid.TotalTiles; t++ {
		skyVal := sky.Data[t]
		stdVal := std.Data[t]
		start, end := grid.TileBounds(t)

		if !isFinite32(skyVal) || !isFinite32(stdVal) || stdVal <= 0 {
			fillTileBlank(out, start, end)
			continue
		}

		thresholdTile(out, img, start, end, skyVal, stdVal, dthresh, noErodeThresh)
	}

	return out, nil
}

func thresholdTile(out *Binary, img *Image, start, end []int, sky, std float32, dthresh, noErodeThresh float64) {
	ndim := len(start)
	coord := make([]int, ndim)
	var rec func(axis int)
	rec = func(axis int) {
		if axis == ndim {
			idx := img.Shape.At(coord...)
			px := img.Data[idx]
			if isNaN32(px) {
				out.Data[idx] = BlankU8
				return
			}
			z := (float64(px) - float64(sky)) / float64(std)
			switch {
			case z > noErodeThresh:
				out.Data[idx] = NoErode
			case z > dthresh:
				out.Data[idx] = BinaryForeground
			default:
				out.Data[idx] = BinaryBackground
			}
			return
		}
		for v := start[axis]; v < end[axis]; v++ {
			coord[axis] = v
			rec(axis + 1)
		}
	}
	rec(0)
}

func fillTileBlank(out *Binary, start, end []int) {
	ndim := len(start)
	coord := make([]int, ndim)
	var rec func(axis int)
	rec = func(axis int) {
		if axis == ndim {
			out.Data[out.Shape.At(coord...)] = BlankU8
			return
		}
		for v := start[axis]; v < end[axis]; v++ {
			coord[axis] = v
			rec(axis + 1)
		}
	}
	rec(0)
}

func isNaN32(f float32) bool { return f != f }

func isFinite32(f float32) bool { return !isNaN32(f) && f == f && (f < 1e30 && f > -1e30) }
