package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig(2).Validate())
	require.NoError(t, DefaultConfig(3).Validate())
}

func TestConfigRejectsBadNDim(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.NDim = 4
	require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
}

func TestConfigRejectsConnectivityMismatchedToNDim(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.ErodeConnectivity = int(Conn3DSix)
	require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
}

func TestConfigRejectsDetQuantOutOfRange(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.DetQuant = 1.5
	require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)

	cfg.DetQuant = 0
	require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
}

func TestConfigRejectsNoErodeThreshBelowDthresh(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.Dthresh = 3.0
	cfg.NoErodeThresh = 1.0
	require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
}

func TestConfigRejectsRangeTagViolation(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.ErodeTimes = -1
	require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)

	cfg = DefaultConfig(2)
	cfg.NumThreads = 0
	require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
}
