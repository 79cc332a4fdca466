package usftp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()
	assert.EqualValues(t, defaultWindowSize, cfg.WindowSize)
	assert.EqualValues(t, subrequestSize, cfg.BlockSize)
	assert.NotNil(t, cfg.Logger)
}

func TestClientOptionsApply(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithMaxPacket(16 * 1024),
		WithWindowSize(2 * 1024 * 1024),
		WithBlockSize(8 * 1024),
	} {
		opt(cfg)
	}
	assert.EqualValues(t, 16*1024, cfg.MaxPacket)
	assert.EqualValues(t, 2*1024*1024, cfg.WindowSize)
	assert.EqualValues(t, 8*1024, cfg.BlockSize)
}

func TestLoadConfigAppliesDefaultsThenOverrides(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "usftp.yaml")
	const doc = "max_packet: 65536\nwatchdog_max_age: 300000000000\n" // 5m, written as a nanosecond count
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.EqualValues(t, 65536, cfg.MaxPacket)
	assert.Equal(t, 5*time.Minute, cfg.WatchdogMaxAge)
	// untouched by the file, should still carry the default
	assert.EqualValues(t, defaultWindowSize, cfg.WindowSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestEffectiveBlockSizeClampsToMaxPacket(t *testing.T) {
	cfg := defaultConfig()
	cfg.BlockSize = 64 * 1024
	cfg.MaxPacket = 16 * 1024
	assert.EqualValues(t, 16*1024, cfg.effectiveBlockSize(), "BlockSize must never exceed MaxPacket")

	cfg.MaxPacket = 0
	assert.EqualValues(t, 64*1024, cfg.effectiveBlockSize(), "MaxPacket of 0 means unbounded")

	cfg.BlockSize = 0
	assert.EqualValues(t, subrequestSize, cfg.effectiveBlockSize(), "BlockSize of 0 falls back to the package default")
}
