package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, time.Second, cfg.SnapshotInterval)
	assert.Equal(t, 60*time.Second, cfg.FlushInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 24*time.Hour, cfg.OrphanMaxAge)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Zero(t, cfg.Profile.FTPWatts)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/recorder
flush_interval: 30s
profile:
  ftp_watts: 265
  threshold_hr: 172
log:
  file: /var/log/recorder.log
  max_backups: 5
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/recorder", cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.FlushInterval)
	assert.Equal(t, time.Second, cfg.SnapshotInterval, "unset keys keep defaults")
	assert.Equal(t, 265.0, cfg.Profile.FTPWatts)
	assert.Equal(t, 172.0, cfg.Profile.ThresholdHR)
	assert.Equal(t, "/var/log/recorder.log", cfg.Log.File)
	assert.Equal(t, 5, cfg.Log.MaxBackups)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RECORDER_DATA_DIR", "/tmp/rec")
	t.Setenv("RECORDER_PROFILE_FTP_WATTS", "300")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rec", cfg.DataDir)
	assert.Equal(t, 300.0, cfg.Profile.FTPWatts)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestProfile_Telemetry(t *testing.T) {
	p := Profile{FTPWatts: 250, ThresholdHR: 170, BodyWeightKg: 72}
	tp := p.Telemetry()
	assert.Equal(t, 250.0, tp.FTPWatts)
	assert.Equal(t, 170.0, tp.ThresholdHR)
	assert.Equal(t, 72.0, tp.BodyWeightKg)
}
