package detect

// morph.go implements BinaryMorph (spec.md §4.1): erode, dilate, open, and
// fill_holes over a Binary grid. Grounded on original_source's
// src/noisechisel/binary.c (dilate0_erode1_4con/_8con, hole-fill via
// inverse-labeling), generalized here from fixed 4-/8-connected 2-D loops to
// an arbitrary neighbor-offset table driven by ndim+connectivity, and from
// single-pass to the multi-pass "write-through uses pre-pass state" rule
// spec.md §4.1 requires.

// neighborOffsets returns the per-axis coordinate deltas for the requested
// connectivity, excluding the zero offset.
func neighborOffsets(ndim, connectivity int) [][]int {
	var offsets [][]int
	if ndim == 2 {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dy == 0 && dx == 0 {
					continue
				}
				if connectivity == int(Conn2DFour) && abs(dy)+abs(dx) != 1 {
					continue
				}
				offsets = append(offsets, []int{dy, dx})
			}
		}
		return offsets
	}
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dz == 0 && dy == 0 && dx == 0 {
					continue
				}
				manhattan := abs(dz) + abs(dy) + abs(dx)
				switch connectivity {
				case int(Conn3DSix):
					if manhattan != 1 {
						continue
					}
				case int(Conn3DEighteen):
					if manhattan > 2 {
						continue
					}
				case int(Conn3DTwentySix):
					// all 26 neighbors included
				}
				offsets = append(offsets, []int{dz, dy, dx})
			}
		}
	}
	return offsets
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// inBounds reports whether coord lies within shape.
func inBounds(shape Shape, coord []int) bool {
	for i, c := range coord {
		if c < 0 || c >= shape[i] {
			return false
		}
	}
	return true
}

// Erode performs `times` iterations of: a 1-pixel becomes 0 if any
// neighbor under connectivity is 0 (out-of-grid neighbors count as 0).
// Each pass reads the pre-pass state so multi-pass erosion does not
// interfere with itself (spec.md §4.1).
func Erode(b *Binary, times int, connectivity int) {
	if times <= 0 {
		return
	}
	offsets := neighborOffsets(b.Shape.NDim(), connectivity)
	for pass := 0; pass < times; pass++ {
		erodeOnePass(b, offsets)
	}
}

func erodeOnePass(b *Binary, offsets [][]int) {
	prev := make([]uint8, len(b.Data))
	copy(prev, b.Data)

	for idx, v := range prev {
		if v != BinaryForeground {
			continue
		}
		coord := b.Shape.Coord(idx)
		becomesZero := false
		for _, off := range offsets {
			n := addCoord(coord, off)
			if !inBounds(b.Shape, n) {
				becomesZero = true
				break
			}
			nv := prev[b.Shape.At(n...)]
			if nv == BinaryBackground {
				becomesZero = true
				break
			}
		}
		if becomesZero {
			b.Data[idx] = BinaryBackground
		}
	}
}

// CoerceNoErode collapses every transient NoErode sentinel pixel to ordinary
// foreground. Called once, immediately after Erode completes (spec.md §4.6
// transition 2): a NoErode pixel already bypasses every erodeOnePass (it is
// never BinaryForeground so the "becomes zero" check skips it, and it reads
// as non-background to any eroding neighbor), so this only needs to fold the
// sentinel back into the boolean alphabet once erosion is done.
func CoerceNoErode(b *Binary) {
	for i, v := range b.Data {
		if v == NoErode {
			b.Data[i] = BinaryForeground
		}
	}
}

// Dilate performs `times` iterations of the dual operation: a 0-pixel
// becomes 1 if any in-grid neighbor under connectivity is 1. Out-of-grid
// positions do not count as foreground: a pixel on the grid edge becomes 1
// only through an in-grid foreground neighbor.
func Dilate(b *Binary, times int, connectivity int) {
	if times <= 0 {
		return
	}
	offsets := neighborOffsets(b.Shape.NDim(), connectivity)
	for pass := 0; pass < times; pass++ {
		dilateOnePass(b, offsets)
	}
}

func dilateOnePass(b *Binary, offsets [][]int) {
	prev := make([]uint8, len(b.Data))
	copy(prev, b.Data)

	for idx, v := range prev {
		if v != BinaryBackground {
			continue
		}
		coord := b.Shape.Coord(idx)
		becomesOne := false
		for _, off := range offsets {
			n := addCoord(coord, off)
			if !inBounds(b.Shape, n) {
				continue // out-of-grid is background for dilation purposes (no growth past the edge)
			}
			nv := prev[b.Shape.At(n...)]
			if nv == BinaryForeground {
				becomesOne = true
				break
			}
		}
		if becomesOne {
			b.Data[idx] = BinaryForeground
		}
	}
}

func addCoord(coord, off []int) []int {
	out := make([]int, len(coord))
	for i := range coord {
		out[i] = coord[i] + off[i]
	}
	return out
}

// Open performs `depth` erosions followed by `depth` dilations with the
// same connectivity (spec.md §4.1).
func Open(b *Binary, depth int, connectivity int) {
	Erode(b, depth, connectivity)
	Dilate(b, depth, connectivity)
}

// FillHoles fills every background region that does not touch the grid
// boundary under the complementary connectivity (4-connected for 2-D,
// 6-connected for 3-D background components), per spec.md §4.1's contract:
// label the inverse, then set 1 on every original-0 pixel whose inverse
// label differs from every boundary-touching component's label.
func FillHoles(b *Binary) {
	ndim := b.Shape.NDim()
	complementConn := int(Conn2DFour)
	if ndim == 3 {
		complementConn = int(Conn3DSix)
	}

	inverse := NewBinary(b.Shape)
	for i, v := range b.Data {
		switch v {
		case BlankU8:
			inverse.Data[i] = BlankU8
		case BinaryBackground:
			inverse.Data[i] = BinaryForeground
		default:
			inverse.Data[i] = BinaryBackground
		}
	}

	invLabels, _, err := ConnectedLabel(inverse, complementConn)
	if err != nil {
		// FillHoles is documented as total over any valid Binary; a label
		// failure here would be a programmer error in ConnectedLabel.
		panic(err)
	}

	boundaryLabels := boundaryTouchingLabels(invLabels)

	for i, v := range b.Data {
		if v == BlankU8 {
			continue
		}
		lbl := invLabels.Data[i]
		if lbl.IsBackground() || lbl.IsBlank() {
			continue
		}
		if !boundaryLabels[lbl] {
			b.Data[i] = BinaryForeground
		}
	}
}

func boundaryTouchingLabels(l *Labels) map[Label]bool {
	shape := l.Shape
	set := make(map[Label]bool)
	ndim := shape.NDim()

	var walk func(fixedAxis, fixedVal int)
	walk = func(fixedAxis, fixedVal int) {
		coord := make([]int, ndim)
		var rec func(axis int)
		rec = func(axis int) {
			if axis == ndim {
				lbl := l.Data[shape.At(coord...)]
				if lbl.IsObject() {
					set[lbl] = true
				}
				return
			}
			if axis == fixedAxis {
				coord[axis] = fixedVal
				rec(axis + 1)
				return
			}
			for v := 0; v < shape[axis]; v++ {
				coord[axis] = v
				rec(axis + 1)
			}
		}
		rec(0)
	}

	for axis := 0; axis < ndim; axis++ {
		walk(axis, 0)
		walk(axis, shape[axis]-1)
	}
	return set
}
