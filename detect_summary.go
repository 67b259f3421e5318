package detect

import "github.com/samber/lo"

// detect_summary.go adds the diagnostic Summary spec.md §4 calls for (SPEC_FULL
// §4 "Supplemented features"): a read-only snapshot of a completed run's
// counts and the derived S/N threshold, never consulted by the pipeline
// itself. Grounded on the teacher's qa.go QInfo, which builds a similarly
// shaped read-only report (Min_Max_Beams, Consistent_Beams, ...) over a
// finished file using lo helpers; this is the same "gather counts with lo,
// stash them in a plain struct" idiom applied to detection counts instead of
// beam QA counts.
type Summary struct {
	NumInitial          int
	NumPseudoSky        int
	NumPseudoDet        int
	NumFalseCulled      int
	NumFinal            int
	SNThreshold         float32
	SkyCalibrationCount int
}

// summarize builds a Summary from the pipeline's intermediate label counts
// and the calibrated S/N table. snSky is the sky-role table whose Records
// carry the calibration S/N values used to derive snThreshold.
func summarize(numInitial, numPseudoSky, numPseudoDet, numFalseCulled, numFinal int, snSky SNTable, snThreshold float32) Summary {
	finite := lo.Filter(snSky.Records, func(r SNRecord, _ int) bool { return !isNaN32(r.SN) })

	return Summary{
		NumInitial:          numInitial,
		NumPseudoSky:        numPseudoSky,
		NumPseudoDet:        numPseudoDet,
		NumFalseCulled:      numFalseCulled,
		NumFinal:            numFinal,
		SNThreshold:         snThreshold,
		SkyCalibrationCount: len(finite),
	}
}
