package detect

import "errors"

// Sentinel errors, one per error kind from spec.md §7, declared as a flat
// list following the teacher's errors.go convention. Call sites either return
// a sentinel as is or wrap it with fmt.Errorf("%w: ...", ErrKind, ...), so
// callers can test with errors.Is(err, detect.ErrConfigInvalid) while still
// getting a human-readable diagnostic.
var (
	// ErrConfigInvalid: connectivity not valid for dimensionality, detquant
	// outside (0,1), negative iteration counts. Fatal at pipeline start.
	ErrConfigInvalid = errors.New("noisechisel: invalid configuration")

	// ErrShapeMismatch: sky/std map tile count inconsistent with the fine
	// tile grid, or a collaborator returned the wrong shape.
	ErrShapeMismatch = errors.New("noisechisel: shape mismatch")

	// ErrEmptyCalibrationSet: zero valid pseudo-detections over the sky
	// region, so sn_threshold cannot be derived.
	ErrEmptyCalibrationSet = errors.New("noisechisel: empty pseudo-detection calibration set")

	// ErrNumericDegenerate: all candidate pseudo-detections produced NaN S/N.
	ErrNumericDegenerate = errors.New("noisechisel: degenerate S/N distribution")

	// ErrAbortedAfterCheck is not one of spec.md §7's four fatal error
	// kinds: it signals a deliberate early stop requested through
	// Config.AbortAfterCheckStage, the same controlled exit the original's
	// --checkdetection without --continueaftercheck performs. Run still
	// returns it through the normal error return so callers can't mistake a
	// requested stop for a completed run.
	ErrAbortedAfterCheck = errors.New("noisechisel: aborted after check stage")
)
