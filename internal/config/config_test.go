package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, Validate(Default(), nil))
}

func TestValidateRejectsInvertedBatchBounds(t *testing.T) {
	cfg := Default()
	cfg.Global.MinBatchSize = 100
	cfg.Global.MaxBatchSize = 10
	assert.Error(t, Validate(cfg, nil))
}

func TestValidateRejectsBatchSizeOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Global.BatchSize = cfg.Global.MaxBatchSize + 1
	assert.Error(t, Validate(cfg, nil))
}

func TestValidateRejectsZeroMaxQueueSize(t *testing.T) {
	cfg := Default()
	cfg.Global.MaxQueueSize = 0
	assert.Error(t, Validate(cfg, nil))
}

func TestLoaderBuildAppliesDefaultsWithoutFile(t *testing.T) {
	l := NewLoader()
	cfg, err := l.Build()
	require.NoError(t, err)
	assert.Equal(t, Default().Global.MaxQueueSize, cfg.Global.MaxQueueSize)
}

func TestValidateSourcePathRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateSourcePath(""))
	assert.NoError(t, ValidateSourcePath("/var/log/auth.log"))
}
