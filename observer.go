package detect

// observer.go implements the check-image observer (SPEC_FULL §4 Supplemented
// features): a callback the pipeline invokes with a deep-enough snapshot of
// its intermediate state after each named stage, mirroring the many
// `gal_fits_img_write(..., "STAGE-NAME", ...)` calls scattered through
// detection.c's `detection_pseudo_find`/`detection_sn`/`detection` and the
// early-abort they support via `p->continueaftercheck`.

// Stage names a pipeline checkpoint. The exact set and ordering follow
// detection.c's check-image extension names.
type Stage string

const (
	StageThresholded      Stage = "THRESHOLDED"
	StageEroded           Stage = "ERODED"
	StageOpenedAndLabeled Stage = "OPENED-AND-LABELED"
	StageDthreshOnSky     Stage = "DTHRESH-ON-SKY"
	StageDthreshOnDet     Stage = "DTHRESH-ON-DET"
	StageHolesFilled      Stage = "HOLES-FILLED"
	StageOpened           Stage = "OPENED"
	StagePseudosForSN     Stage = "PSEUDOS-FOR-SN"
	StageTruePseudos      Stage = "TRUE-PSEUDOS"
	StageDetectionFinal   Stage = "DETECTION-FINAL"
	StageDilated          Stage = "DILATED"
)

// CheckImage is a named snapshot handed to an Observer. Exactly one of
// Binary or Labels is non-nil, matching whichever grid the stage produced.
type CheckImage struct {
	Stage  Stage
	Binary *Binary
	Labels *Labels
}

// Observer receives a CheckImage after every named stage the pipeline
// completes. Observe must not retain or mutate the grids it is handed: the
// pipeline reuses their backing arrays for the next stage.
type Observer interface {
	Observe(img CheckImage)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(CheckImage)

// Observe implements Observer.
func (f ObserverFunc) Observe(img CheckImage) { f(img) }

// noopObserver discards every check image; used when the caller supplies
// none, so DetectionPipeline never needs a nil check.
type noopObserver struct{}

func (noopObserver) Observe(CheckImage) {}

// abortAfter reports whether cfg requests a stop once stage's check image
// has been observed (Config.AbortAfterCheckStage, SPEC_FULL §4).
func abortAfter(cfg Config, stage Stage) bool {
	return cfg.AbortAfterCheckStage != "" && cfg.AbortAfterCheckStage == stage
}
