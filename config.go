package detect

import (
	"fmt"
	"reflect"

	stgpsr "github.com/yuin/stagparser"
)

// Connectivity2D selects the erosion/dilation/opening neighborhood for a
// 2-D grid (spec.md §4.1).
type Connectivity2D int

const (
	Conn2DFour Connectivity2D = 4
	Conn2DEight Connectivity2D = 8
)

// Connectivity3D selects the neighborhood for a 3-D grid.
type Connectivity3D int

const (
	Conn3DSix      Connectivity3D = 6
	Conn3DEighteen Connectivity3D = 18
	Conn3DTwentySix Connectivity3D = 26
)

// Config is the configuration record constructed once by the caller and
// borrowed read-only by Pipeline for its entire run (spec.md §9 "Global
// parameter block" redesign note). Numeric fields carry a `validate:"range(...)"`
// tag in the style of the teacher's tiledb struct tags; Validate() parses
// those tags with stagparser the same way the teacher parses `tiledb:"..."`
// and `filters:"..."` tags in CreateAttr.
type Config struct {
	NDim int `validate:"range(min=2,max=3)"`

	ErodeTimes        int `validate:"range(min=0,max=1000000)"`
	ErodeConnectivity int // 4/8 for 2-D, 6/18/26 for 3-D

	OpeningDepth        int `validate:"range(min=0,max=1000000)"`
	OpeningConnectivity int // 4/8 for 2-D only

	Dthresh float64 // may be negative

	// NoErodeThresh is a second, stricter sky-relative sigma threshold
	// (spec.md §3 NO_ERODE, §4.4, §4.6 transition 2): a pixel clearing it is
	// marked NoErode instead of ordinary foreground, bypasses every Erode
	// pass untouched, and is coerced to foreground only once erosion
	// finishes. Must be >= Dthresh.
	NoErodeThresh float64

	DetSNMinArea int     `validate:"range(min=1,max=1000000000)"`
	DetQuant     float64 // must be in (0,1)

	Dilate       int `validate:"range(min=0,max=1000000)"`
	CleanDilated bool

	SkySubtracted bool
	CPSCorr       float64 `validate:"range(min=1e-9,max=1e9)"`

	NumThreads int `validate:"range(min=1,max=100000)"`

	// BlankAsSkyForeground resolves the spec.md §9 open question "blank-on-
	// sky fill-in": when true, blank pixels are treated as foreground (1)
	// during the SKY-role pseudo-detection preparation instead of staying
	// blank. Default false matches the original's disabled/commented state.
	BlankAsSkyForeground bool

	// FinalDilationConnectivity is the "image's default connectivity" used
	// to relabel after dilation (spec.md §4.6 step 10): 8 for 2-D, 26 for 3-D.
	FinalDilationConnectivity int

	// AbortAfterCheckStage names a Stage after which Run stops early and
	// returns ErrAbortedAfterCheck once the matching check image has been
	// handed to Observer, the same "write a check image and optionally quit"
	// escape hatch the original's --checkdetection/--continueaftercheck pair
	// gives an operator. Empty means never abort.
	AbortAfterCheckStage Stage
}

// DefaultConfig returns a Config with conservative, commonly-used defaults.
func DefaultConfig(ndim int) Config {
	cfg := Config{
		NDim:                ndim,
		ErodeTimes:          2,
		OpeningDepth:        1,
		Dthresh:             -0.1,
		NoErodeThresh:       5.0,
		DetSNMinArea:        10,
		DetQuant:            0.99,
		Dilate:              1,
		CleanDilated:        true,
		SkySubtracted:       true,
		CPSCorr:             1.0,
		NumThreads:          1,
	}
	if ndim == 2 {
		cfg.ErodeConnectivity = int(Conn2DFour)
		cfg.OpeningConnectivity = int(Conn2DFour)
		cfg.FinalDilationConnectivity = int(Conn2DEight)
	} else {
		cfg.ErodeConnectivity = int(Conn3DSix)
		cfg.OpeningConnectivity = int(Conn3DSix)
		cfg.FinalDilationConnectivity = int(Conn3DTwentySix)
	}
	return cfg
}

// Validate checks every invariant spec.md §7 classifies as ConfigInvalid.
// Numeric ranges are driven by the `validate:"range(...)"` struct tags via
// stagparser; cross-field invariants (connectivity-vs-ndim, detquant domain)
// are checked explicitly since a single-field range tag cannot express them.
func (c Config) Validate() error {
	if err := c.validateRanges(); err != nil {
		return err
	}

	if c.NDim != 2 && c.NDim != 3 {
		return fmt.Errorf("%w: ndim must be 2 or 3, got %d", ErrConfigInvalid, c.NDim)
	}
	if !validConnectivity(c.NDim, c.ErodeConnectivity) {
		return fmt.Errorf("%w: erode_connectivity %d invalid for ndim=%d", ErrConfigInvalid, c.ErodeConnectivity, c.NDim)
	}
	if c.NDim == 2 && c.OpeningConnectivity != int(Conn2DFour) && c.OpeningConnectivity != int(Conn2DEight) {
		return fmt.Errorf("%w: opening_connectivity %d invalid for 2-D", ErrConfigInvalid, c.OpeningConnectivity)
	}
	if c.DetQuant <= 0 || c.DetQuant >= 1 {
		return fmt.Errorf("%w: detquant must be in (0,1), got %v", ErrConfigInvalid, c.DetQuant)
	}
	if c.NoErodeThresh < c.Dthresh {
		return fmt.Errorf("%w: no_erode_thresh %v below dthresh %v", ErrConfigInvalid, c.NoErodeThresh, c.Dthresh)
	}
	if !validConnectivity(c.NDim, c.FinalDilationConnectivity) {
		return fmt.Errorf("%w: final dilation connectivity %d invalid for ndim=%d", ErrConfigInvalid, c.FinalDilationConnectivity, c.NDim)
	}
	return nil
}

// orthogonalConnectivity returns the fixed face-only connectivity for ndim:
// 4 for 2-D, 6 for 3-D. spec.md §4.5 Stage C ("ConnectedLabeler(workbin,
// connectivity=orthogonal)") and the original's detection_initial both
// hardcode this independent of any erode/dilate connectivity the caller
// configures, so it is derived from NDim rather than stored as a field.
func orthogonalConnectivity(ndim int) int {
	if ndim == 2 {
		return int(Conn2DFour)
	}
	return int(Conn3DSix)
}

func validConnectivity(ndim, conn int) bool {
	if ndim == 2 {
		return conn == int(Conn2DFour) || conn == int(Conn2DEight)
	}
	return conn == int(Conn3DSix) || conn == int(Conn3DEighteen) || conn == int(Conn3DTwentySix)
}

// validateRanges walks Config's fields via stagparser the same way the
// teacher's schemaAttrs/CreateAttr walk a record struct's `tiledb`/`filters`
// tags: ParseStruct returns one []Definition per tagged field, each
// Definition named by its range clause ("range") carrying min/max attributes.
func (c Config) validateRanges() error {
	defs, err := stgpsr.ParseStruct(&c, "validate")
	if err != nil {
		return fmt.Errorf("%w: parsing validation tags: %v", ErrConfigInvalid, err)
	}

	v := reflect.ValueOf(c)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Name
		fieldDefs, ok := defs[name]
		if !ok {
			continue
		}
		for _, d := range fieldDefs {
			if d.Name() != "range" {
				continue
			}
			minAttr, hasMin := d.Attribute("min")
			maxAttr, hasMax := d.Attribute("max")
			val := toFloat64(v.Field(i))
			if hasMin {
				if min := toFloat64FromAny(minAttr); val < min {
					return fmt.Errorf("%w: %s=%v below minimum %v", ErrConfigInvalid, name, val, min)
				}
			}
			if hasMax {
				if max := toFloat64FromAny(maxAttr); val > max {
					return fmt.Errorf("%w: %s=%v above maximum %v", ErrConfigInvalid, name, val, max)
				}
			}
		}
	}
	return nil
}

func toFloat64(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toFloat64FromAny(a any) float64 {
	switch n := a.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
