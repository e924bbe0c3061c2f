package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 60*time.Second, cfg.Monitor.ScanInterval)
	assert.Equal(t, 80.0, cfg.Monitor.RiskThreshold)
	assert.Equal(t, 5.0, cfg.Monitor.CascadeDelta)
	assert.Equal(t, 20, cfg.Monitor.ScanLimit)
	assert.Equal(t, 2, cfg.Engine.MaxHops)
	assert.Equal(t, 0.7, cfg.Engine.HopDecay)
	assert.Equal(t, 30, cfg.Engine.DefaultWindowDays)
	assert.Equal(t, 50, cfg.Batch.MaxSize)
	assert.Equal(t, 10, cfg.Batch.ChunkSize)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)

	cat := cfg.Tiers.Catalog()
	assert.Equal(t, 30, cat[contracts.TierFree].MaxTimeWindowDays)
	assert.Equal(t, 100, cat[contracts.TierProfessional].AnalysesPerMonth)
	assert.Equal(t, 365, cat[contracts.TierEnterprise].MaxTimeWindowDays)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
monitor:
  interval: 5s
  risk_threshold: 75
tiers:
  professional:
    analyses_per_month: 250
    max_time_window_days: 120
`), 0o600))

	t.Setenv("INTEL_MONITOR__RISK_THRESHOLD", "70")
	t.Setenv("INTEL_KAFKA__BROKERS", "k1:9092,k2:9092")
	t.Setenv("INTEL_REDIS__ADDR", "redis:6379")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 70.0, cfg.Monitor.RiskThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 120, cfg.Tiers.Professional.MaxTimeWindowDays)
	assert.Equal(t, 250, cfg.Tiers.Professional.AnalysesPerMonth)
}

func TestLoadRejectsNonMonotoneTiers(t *testing.T) {
	t.Setenv("INTEL_TIERS__PROFESSIONAL__MAX_TIME_WINDOW_DAYS", "10")
	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tiers")
}

func TestLoadRejectsBadDecay(t *testing.T) {
	t.Setenv("INTEL_ENGINE__HOP_DECAY", "1.5")
	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hop decay")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
