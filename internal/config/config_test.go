package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "statsd-aggregator.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `# comment
data_port=8125

downstream=collector.internal:8126
downstream_flush_interval=0.5
dns_refresh_interval=30
downstream_health_check_interval=2.5
log_level=1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8125, cfg.DataPort)
	assert.Equal(t, "collector.internal", cfg.DownstreamHost)
	assert.Equal(t, 8126, cfg.DownstreamPort)
	assert.Equal(t, 500*time.Millisecond, cfg.DownstreamFlushInterval)
	assert.Equal(t, 30*time.Second, cfg.DNSRefreshInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.DownstreamHealthCheckInterval)
	assert.Equal(t, 1, cfg.LogLevel)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `data_port=8125
downstream=127.0.0.1:8126
downstream_flush_interval=1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultDNSRefreshInterval, cfg.DNSRefreshInterval)
	assert.Equal(t, DefaultDownstreamHealthCheckInterval, cfg.DownstreamHealthCheckInterval)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	path := writeConfig(t, `log_level=0
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUnknownKeyFails(t *testing.T) {
	path := writeConfig(t, `data_port=8125
downstream=127.0.0.1:8126
downstream_flush_interval=1
bogus_key=1
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadBadLineFails(t *testing.T) {
	path := writeConfig(t, `data_port 8125
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadZeroFlushIntervalFails(t *testing.T) {
	path := writeConfig(t, `data_port=8125
downstream=127.0.0.1:8126
downstream_flush_interval=0
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}
