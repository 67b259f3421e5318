package detect

import (
	"context"
	"math"
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// pseudosn.go implements PseudoSN (spec.md §4.5, Stages A-E): building the
// pseudo-detection calibration that turns a tile-normalized S/N quantile
// into the threshold real detections must clear. Grounded on
// detection.c's detection_pseudo_sky_or_det (Stage A), detection_pseudo_find
// (Stages B-C), detection_sn (Stage D), and detection_pseudo_remove_low_sn
// (Stage E). The area/brightness/centroid accumulation is a plain per-pixel
// loop into per-label slices; github.com/samber/lo (as in the teacher's
// qa.go QInfo) only builds the value list for the quantile, which is computed
// with gonum.org/v1/gonum/stat.Quantile, in the style of the velocity-report
// example's use of gonum for distributional statistics.
type PseudoSN struct {
	Config   Config
	Observer Observer
}

// NewPseudoSN constructs a PseudoSN. A nil observer is replaced with a
// no-op so callers never need a nil check.
func NewPseudoSN(cfg Config, obs Observer) *PseudoSN {
	if obs == nil {
		obs = noopObserver{}
	}
	return &PseudoSN{Config: cfg, Observer: obs}
}

// Prepare implements Stage A: it derives the role-specific working mask
// from the sky threshold result and the current object labels.
//
//   - RoleDet zeros every sky (non-object) pixel and passes every object
//     pixel through from thresh unchanged (detection_pseudo_sky_or_det,
//     s0d1=1): restricts pseudo-detection search to inside real detections.
//   - RoleSky forces every object pixel to foreground, keeps blank-label
//     pixels blank (or sets them to foreground when
//     Config.BlankAsSkyForeground is true), and passes every sky pixel
//     through from thresh unchanged (s0d1=0): keeps detected objects from
//     fragmenting the sky noise-peak search near their boundary.
func (p *PseudoSN) Prepare(role Role, thresh *Binary, olabel *Labels) (*Binary, error) {
	if len(thresh.Data) != len(olabel.Data) {
		return nil, ErrShapeMismatch
	}
	out := NewBinary(thresh.Shape)
	for i, lbl := range olabel.Data {
		switch role {
		case RoleDet:
			if lbl.IsObject() {
				out.Data[i] = thresh.Data[i]
			} else {
				out.Data[i] = BinaryBackground
			}
		case RoleSky:
			if lbl.IsObject() {
				out.Data[i] = BinaryForeground
			} else if lbl.IsBlank() {
				if p.Config.BlankAsSkyForeground {
					out.Data[i] = BinaryForeground
				} else {
					out.Data[i] = BlankU8
				}
			} else {
				out.Data[i] = thresh.Data[i]
			}
		}
	}

	stage := StageDthreshOnDet
	if role == RoleSky {
		stage = StageDthreshOnSky
	}
	p.Observer.Observe(CheckImage{Stage: stage, Binary: out})
	if abortAfter(p.Config, stage) {
		return nil, ErrAbortedAfterCheck
	}
	return out, nil
}

// FillThenOpen implements Stage B: per tile, fill holes then open, using the
// engine's fixed worker pool with one terminal barrier, matching
// detection_fill_holes_open's tile-by-tile fill+open loop.
func (p *PseudoSN) FillThenOpen(ctx context.Context, engine *TileEngine, w *Binary) error {
	err := engine.ForEachTile(ctx, func(_ context.Context, _ int, start, end []int) error {
		tile := CopyTileToContiguous(w, start, end)
		FillHoles(tile)
		CopyContiguousToTile(w, tile, start, end)
		return nil
	})
	if err != nil {
		return err
	}
	p.Observer.Observe(CheckImage{Stage: StageHolesFilled, Binary: w})
	if abortAfter(p.Config, StageHolesFilled) {
		return ErrAbortedAfterCheck
	}

	err = engine.ForEachTile(ctx, func(_ context.Context, _ int, start, end []int) error {
		tile := CopyTileToContiguous(w, start, end)
		Open(tile, 1, p.Config.OpeningConnectivity)
		CopyContiguousToTile(w, tile, start, end)
		return nil
	})
	if err != nil {
		return err
	}
	p.Observer.Observe(CheckImage{Stage: StageOpened, Binary: w})
	if abortAfter(p.Config, StageOpened) {
		return ErrAbortedAfterCheck
	}
	return nil
}

// Label implements Stage C: connected-component labeling of the pseudo-
// detection mask under the given connectivity. Both call sites in
// FindRealPseudoDetections pass orthogonal connectivity (spec.md §4.5 Stage C:
// "ConnectedLabeler(workbin, connectivity=orthogonal)"), regardless of
// whatever connectivity the caller configured for dilation.
func (p *PseudoSN) Label(w *Binary, connectivity int) (*Labels, int, error) {
	lbl, n, err := ConnectedLabel(w, connectivity)
	if err != nil {
		return nil, 0, err
	}
	p.Observer.Observe(CheckImage{Stage: StagePseudosForSN, Labels: lbl})
	if abortAfter(p.Config, StagePseudosForSN) {
		return nil, 0, ErrAbortedAfterCheck
	}
	return lbl, n, nil
}

// snAccumulator holds the running per-label sums needed for Stage D.
type snAccumulator struct {
	area       []int
	brightness []float64
	fluxSum    []float64
	weighted   [][]float64 // weighted[lbl][axis]
	flagged    []bool      // RoleSky only: label overlaps a real detection
}

func newSNAccumulator(numLabels, ndim int) *snAccumulator {
	weighted := make([][]float64, numLabels+1)
	for i := range weighted {
		weighted[i] = make([]float64, ndim)
	}
	return &snAccumulator{
		area:       make([]int, numLabels+1),
		brightness: make([]float64, numLabels+1),
		fluxSum:    make([]float64, numLabels+1),
		weighted:   weighted,
		flagged:    make([]bool, numLabels+1),
	}
}

// Accumulate implements the pixel-gathering half of Stage D (detection_sn's
// single pass over the image): area, summed brightness, and a flux-weighted
// centroid per pseudo-detection label. For RoleSky, a pseudo-detection that
// overlaps any real detected pixel (per olabel) is permanently flagged and
// its statistics discarded, matching the flag/dlab logic in detection_sn.
func (p *PseudoSN) Accumulate(img *Image, worklab *Labels, numLabels int, role Role, olabel *Labels) *snAccumulator {
	acc := newSNAccumulator(numLabels, img.Shape.NDim())

	for i, lbl := range worklab.Data {
		if !lbl.IsObject() {
			continue
		}
		if role == RoleSky {
			if acc.flagged[lbl] {
				continue
			}
			if olabel.Data[i].IsObject() {
				acc.flagged[lbl] = true
				acc.area[lbl] = 0
				acc.brightness[lbl] = 0
				continue
			}
		}

		f := img.Data[i]
		if isNaN32(f) {
			continue
		}
		acc.area[lbl]++
		acc.brightness[lbl] += float64(f)
		if f > 0 {
			coord := img.Shape.Coord(i)
			acc.fluxSum[lbl] += float64(f)
			for axis, c := range coord {
				acc.weighted[lbl][axis] += float64(c) * float64(f)
			}
		}
	}
	return acc
}

// ComputeSN implements the reduction half of Stage D: turning the
// accumulated sums into an SNTable, matching detection_sn's per-label S/N
// formula `sqrt(area/cpscorr) * mean / sqrt(mean + noise_variance)`, where
// mean is sky-subtracted brightness-per-area at the tile covering the
// pseudo-detection's flux-weighted centroid, and noise_variance is that
// tile's std^2 (doubled when the image is not already sky-subtracted).
func (p *PseudoSN) ComputeSN(acc *snAccumulator, role Role, grid *TileGrid, sky *SkyMap, std *StdMap) (SNTable, error) {
	if len(sky.Data) != grid.TotalTiles || len(std.Data) != grid.TotalTiles {
		return SNTable{}, ErrShapeMismatch
	}

	numLabels := len(acc.area) - 1
	records := make([]SNRecord, numLabels+1)
	records[0] = SNRecord{SN: float32(math.NaN())}

	var compact []SNRecord

	for lbl := 1; lbl <= numLabels; lbl++ {
		area := acc.area[lbl]
		sn := float32(math.NaN())
		rec := SNRecord{Area: area, SN: sn}

		if area > p.Config.DetSNMinArea && acc.fluxSum[lbl] > 0 {
			ave := acc.brightness[lbl] / float64(area)
			if ave > 0 {
				centroid := make([]float64, len(acc.weighted[lbl]))
				coordInt := make([]int, len(centroid))
				for axis := range centroid {
					centroid[axis] = acc.weighted[lbl][axis] / acc.fluxSum[lbl]
					coordInt[axis] = int(math.Round(centroid[axis]))
				}
				tileIdx := grid.TileIndexForCoord(coordInt)
				skyVal := float64(sky.Data[tileIdx])
				stdVal := float64(std.Data[tileIdx])

				ave -= skyVal
				noiseVar := stdVal * stdVal
				if !p.Config.SkySubtracted {
					noiseVar *= 2
				}

				if ave+noiseVar > 0 {
					sn = float32(math.Sqrt(float64(area)/p.Config.CPSCorr) * ave / math.Sqrt(ave+noiseVar))
				}
				rec.Brightness = ave
				rec.Centroid = centroid
				rec.SN = sn
			}
		}

		records[lbl] = rec
		if role == RoleSky && !isNaN32(sn) {
			compact = append(compact, rec)
		}
	}

	if role == RoleSky {
		return SNTable{Role: RoleSky, Records: compact}, nil
	}
	return SNTable{Role: role, Records: records}, nil
}

// DetQuantile implements the quantile half of Stage E: the detquant-th
// quantile of the sky-role S/N table becomes the threshold every
// det-role (and later, final) pseudo-detection must clear.
func DetQuantile(sky SNTable, detquant float64) (float32, error) {
	if len(sky.Records) == 0 {
		return 0, ErrEmptyCalibrationSet
	}

	values := lo.Map(sky.Records, func(r SNRecord, _ int) float64 { return float64(r.SN) })
	sort.Float64s(values)

	q := stat.Quantile(detquant, stat.Empirical, values, nil)
	if math.IsNaN(q) {
		return 0, ErrNumericDegenerate
	}
	return float32(q), nil
}

// RemoveLowSN implements Stage E's mask update: keep a pseudo-detection's
// pixels in workbin only if its S/N clears threshold, matching
// detection_pseudo_remove_low_sn (NaN S/N values compare false and are
// dropped automatically).
func (p *PseudoSN) RemoveLowSN(workbin *Binary, worklab *Labels, sn SNTable, threshold float32) error {
	keep := make([]bool, len(sn.Records))
	for lbl, rec := range sn.Records {
		if !isNaN32(rec.SN) && rec.SN > threshold {
			keep[lbl] = true
		}
	}

	for i, lbl := range worklab.Data {
		if lbl.IsBlank() {
			workbin.Data[i] = BlankU8
			continue
		}
		if !lbl.IsObject() {
			workbin.Data[i] = BinaryBackground
			continue
		}
		if int(lbl) < len(keep) && keep[lbl] {
			workbin.Data[i] = BinaryForeground
		} else {
			workbin.Data[i] = BinaryBackground
		}
	}

	p.Observer.Observe(CheckImage{Stage: StageTruePseudos, Binary: workbin})
	if abortAfter(p.Config, StageTruePseudos) {
		return ErrAbortedAfterCheck
	}
	return nil
}

// FindRealPseudoDetections runs Stages A-E end to end for both the sky and
// detection roles, matching detection_pseudo_real: it returns the
// true-pseudo-detection mask restricted to the detection role, the derived
// S/N threshold, the sky-role S/N table (kept for Summary reporting), and
// the det-role S/N table.
func (p *PseudoSN) FindRealPseudoDetections(ctx context.Context, img *Image, engine *TileEngine, grid *TileGrid, thresh *Binary, olabel *Labels, sky *SkyMap, std *StdMap) (truePseudo *Binary, snThreshold float32, skySN, detSN SNTable, err error) {
	skyMask, err := p.Prepare(RoleSky, thresh, olabel)
	if err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}
	if err := p.FillThenOpen(ctx, engine, skyMask); err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}
	skyLabels, numSky, err := p.Label(skyMask, orthogonalConnectivity(p.Config.NDim))
	if err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}
	skyAcc := p.Accumulate(img, skyLabels, numSky, RoleSky, olabel)
	skySN, err = p.ComputeSN(skyAcc, RoleSky, grid, sky, std)
	if err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}
	if len(skySN.Records) == 0 {
		return nil, 0, SNTable{}, SNTable{}, ErrEmptyCalibrationSet
	}

	snThreshold, err = DetQuantile(skySN, p.Config.DetQuant)
	if err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}

	detMask, err := p.Prepare(RoleDet, thresh, olabel)
	if err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}
	if err := p.FillThenOpen(ctx, engine, detMask); err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}
	detLabels, numDet, err := p.Label(detMask, orthogonalConnectivity(p.Config.NDim))
	if err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}
	detAcc := p.Accumulate(img, detLabels, numDet, RoleDet, nil)
	detSN, err = p.ComputeSN(detAcc, RoleDet, grid, sky, std)
	if err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}

	if err := p.RemoveLowSN(detMask, detLabels, detSN, snThreshold); err != nil {
		return nil, 0, SNTable{}, SNTable{}, err
	}

	return detMask, snThreshold, skySN, detSN, nil
}
