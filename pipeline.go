package detect

import "context"

// pipeline.go implements DetectionPipeline (spec.md §4.6): the top-level
// state machine wiring Thresholder, BinaryMorph, ConnectedLabeler, and
// PseudoSN into the full "noisy image in, true detections out" operation.
// Grounded on detection.c's top-level `detection()` function and its two
// false-detection removal helpers, `detection_remove_false_initial` and
// `detection_final_remove_small_sn`; the tile-parallel fill/open steps
// inside PseudoSN are driven through the same TileEngine the top-level
// pipeline builds once and reuses for every tiled stage.

// DetectionPipeline runs the full detection sequence once per call to Run.
// Apart from the S/N tables surfaced through SNTables, all run-scoped state
// lives in the returned Result.
type DetectionPipeline struct {
	Config      Config
	Thresholder Thresholder
	Observer    Observer

	// snTables holds the sky/det/final S/N tables from the most recently
	// completed Run, surfaced through SNTables (SPEC_FULL §4 "S/N table
	// side-channel", grounded on detection_sn_write_to_file). This is the
	// one piece of state Run retains between calls.
	snTables map[string]SNTable
}

// NewDetectionPipeline constructs a pipeline. A nil thresholder defaults to
// QuantileThresholder; a nil observer discards every check image.
func NewDetectionPipeline(cfg Config, thresholder Thresholder, obs Observer) *DetectionPipeline {
	if thresholder == nil {
		thresholder = QuantileThresholder{}
	}
	if obs == nil {
		obs = noopObserver{}
	}
	return &DetectionPipeline{Config: cfg, Thresholder: thresholder, Observer: obs}
}

// Result is everything a completed run produces: the final labeled
// detections, their S/N table, and a diagnostic Summary.
type Result struct {
	Labels  *Labels
	SN      SNTable
	Summary Summary
}

// SNTables returns the sky-role, det-role, and final-role S/N tables from
// the most recently completed Run, keyed "sky"/"det"/"final". Returns nil
// before any successful Run.
func (dp *DetectionPipeline) SNTables() map[string]SNTable {
	return dp.snTables
}

// Run executes the pipeline end to end: threshold, erode, open-and-label,
// pseudo-detection S/N calibration, false-detection removal, optional
// dilation, and an optional final small-S/N cull (spec.md §4.6 steps 1-11).
func (dp *DetectionPipeline) Run(ctx context.Context, img *Image, tileShape Shape, sky *SkyMap, std *StdMap) (*Result, error) {
	if err := dp.Config.Validate(); err != nil {
		return nil, err
	}
	if img.Shape.NDim() != dp.Config.NDim {
		return nil, ErrShapeMismatch
	}

	grid, err := NewTileGrid(img.Shape, tileShape)
	if err != nil {
		return nil, err
	}
	if len(sky.Data) != grid.TotalTiles || len(std.Data) != grid.TotalTiles {
		return nil, ErrShapeMismatch
	}
	engine := NewTileEngine(grid, dp.Config.NumThreads)

	// Step 1: threshold.
	thresh, err := dp.Thresholder.Threshold(img, grid, sky, std, dp.Config.Dthresh, dp.Config.NoErodeThresh)
	if err != nil {
		return nil, err
	}
	dp.Observer.Observe(CheckImage{Stage: StageThresholded, Binary: thresh})
	if abortAfter(dp.Config, StageThresholded) {
		return nil, ErrAbortedAfterCheck
	}

	// Step 2: erode, then collapse NoErode pixels (which bypassed erosion
	// entirely) back to ordinary foreground, both in the eroded mask and in
	// thresh, which the pseudo-detection stages read later.
	eroded := thresh.Clone()
	Erode(eroded, dp.Config.ErodeTimes, dp.Config.ErodeConnectivity)
	CoerceNoErode(eroded)
	CoerceNoErode(thresh)
	if err := PropagateBlankFromImage(eroded, img); err != nil {
		return nil, err
	}
	dp.Observer.Observe(CheckImage{Stage: StageEroded, Binary: eroded})
	if abortAfter(dp.Config, StageEroded) {
		return nil, ErrAbortedAfterCheck
	}

	// Step 3: open, then label the initial detections. Labeling always uses
	// orthogonal connectivity here (spec.md §4.6 transition 3), independent
	// of whatever connectivity a later dilation step is configured with.
	opened := eroded.Clone()
	Open(opened, dp.Config.OpeningDepth, dp.Config.ErodeConnectivity)
	olabel, numInitial, err := ConnectedLabel(opened, orthogonalConnectivity(dp.Config.NDim))
	if err != nil {
		return nil, err
	}
	dp.Observer.Observe(CheckImage{Stage: StageOpenedAndLabeled, Labels: olabel})
	if abortAfter(dp.Config, StageOpenedAndLabeled) {
		return nil, ErrAbortedAfterCheck
	}

	// Steps 4-8: pseudo-detection calibration over the sky and detection
	// regions, yielding a true-pseudo-detection mask restricted to real
	// detections and the S/N threshold they must clear.
	pseudoSN := NewPseudoSN(dp.Config, dp.Observer)
	truePseudo, snThreshold, skySN, detSN, err := pseudoSN.FindRealPseudoDetections(ctx, img, engine, grid, thresh, olabel, sky, std)
	if err != nil {
		return nil, err
	}

	// Step 9: remove initial detections that don't overlap a true
	// pseudo-detection.
	workbin, numTrueInitial := removeFalseInitial(olabel, truePseudo, numInitial, dp.Config.Dilate > 0)

	finalLabels := olabel
	numFinal := numTrueInitial

	// Step 10: optional dilation and relabel.
	if dp.Config.Dilate > 0 {
		Dilate(workbin, dp.Config.Dilate, dp.Config.FinalDilationConnectivity)
		finalLabels, numFinal, err = ConnectedLabel(workbin, dp.Config.FinalDilationConnectivity)
		if err != nil {
			return nil, err
		}
		dp.Observer.Observe(CheckImage{Stage: StageDilated, Labels: finalLabels})
		if abortAfter(dp.Config, StageDilated) {
			return nil, ErrAbortedAfterCheck
		}
	}

	// Step 11: compute the final detections' own S/N, then optionally cull
	// any whose full-area S/N still falls below threshold.
	finalAcc := pseudoSN.Accumulate(img, finalLabels, numFinal, RoleFinal, nil)
	finalSN, err := pseudoSN.ComputeSN(finalAcc, RoleFinal, grid, sky, std)
	if err != nil {
		return nil, err
	}

	numFalseCulled := 0
	if dp.Config.CleanDilated {
		before := numFinal
		finalLabels, numFinal = removeSmallSN(finalLabels, numFinal, finalSN, snThreshold)
		numFalseCulled = before - numFinal
		finalAcc = pseudoSN.Accumulate(img, finalLabels, numFinal, RoleFinal, nil)
		finalSN, err = pseudoSN.ComputeSN(finalAcc, RoleFinal, grid, sky, std)
		if err != nil {
			return nil, err
		}
	}
	dp.Observer.Observe(CheckImage{Stage: StageDetectionFinal, Labels: finalLabels})
	if abortAfter(dp.Config, StageDetectionFinal) {
		return nil, ErrAbortedAfterCheck
	}

	dp.snTables = map[string]SNTable{"sky": skySN, "det": detSN, "final": finalSN}

	summary := summarize(numInitial, len(skySN.Records), len(detSN.Records)-1, numInitial-numTrueInitial+numFalseCulled, numFinal, skySN, snThreshold)

	return &Result{Labels: finalLabels, SN: finalSN, Summary: summary}, nil
}

// removeFalseInitial implements detection_remove_false_initial: an initial
// detection survives only if at least one of its pixels overlaps the
// true-pseudo-detection mask. Survivors are relabeled 1..k in their
// original label order. The returned Binary marks every surviving pixel as
// foreground. When dilateNext is false, olabel is also relabeled in place
// (survivors 1..k, the rest background); when it is true, olabel is left
// untouched, since dilation relabels from the returned Binary. This matches
// the original's "only touch olabel in place when no dilation follows" rule.
func removeFalseInitial(olabel *Labels, truePseudo *Binary, numInitial int, dilateNext bool) (*Binary, int) {
	overlap := make([]bool, numInitial+1)
	for i, lbl := range olabel.Data {
		if lbl.IsObject() && truePseudo.Data[i] == BinaryForeground {
			overlap[lbl] = true
		}
	}

	newLabel := make([]int, numInitial+1)
	next := 1
	for lbl := 1; lbl <= numInitial; lbl++ {
		if overlap[lbl] {
			newLabel[lbl] = next
			next++
		}
	}
	numTrue := next - 1

	out := NewBinary(olabel.Shape)
	for i, lbl := range olabel.Data {
		switch {
		case lbl.IsBlank():
			out.Data[i] = BlankU8
		case lbl.IsObject() && newLabel[lbl] > 0:
			out.Data[i] = BinaryForeground
			if !dilateNext {
				olabel.Data[i] = Label(newLabel[lbl])
			}
		default:
			out.Data[i] = BinaryBackground
			if lbl.IsObject() && !dilateNext {
				olabel.Data[i] = LabelBackground
			}
		}
	}

	return out, numTrue
}

// removeSmallSN implements detection_final_remove_small_sn: a final
// (possibly dilated) detection survives only if its own S/N clears
// threshold, since a real object's full-area S/N should always exceed any
// of its constituent pseudo-detections. Survivors are relabeled 1..k.
func removeSmallSN(labels *Labels, numLabels int, sn SNTable, threshold float32) (*Labels, int) {
	newLabel := make([]int, numLabels+1)
	next := 1
	for lbl := 1; lbl <= numLabels; lbl++ {
		rec := sn.Records[lbl]
		if !isNaN32(rec.SN) && rec.SN > threshold {
			newLabel[lbl] = next
			next++
		}
	}

	out := NewLabels(labels.Shape)
	for i, lbl := range labels.Data {
		switch {
		case lbl.IsBlank():
			out.Data[i] = LabelBlank
		case lbl.IsObject() && newLabel[lbl] > 0:
			out.Data[i] = Label(newLabel[lbl])
		default:
			out.Data[i] = LabelBackground
		}
	}

	return out, next - 1
}
