package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotBridge/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultExchangeRateURL, cfg.Feeds.ExchangeRateURL)
	assert.Equal(t, 3, cfg.Feeds.MaxRetries)
	assert.Equal(t, 60, cfg.Feeds.CooldownSeconds)
	assert.Equal(t, "tcp", cfg.PLC.Transport)
	assert.Equal(t, 100, cfg.PLC.ScalingFactor)
	assert.Equal(t, 30*time.Second, cfg.AutoDelay())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
feeds:
  max_retries: 5
plc:
  address: 10.0.0.5:502
  unit_id: 3
  scaling_factor: 10
registers:
  daily_max:
    address: 40
    scale: 1000
schedule:
  auto_delay_seconds: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Feeds.MaxRetries)
	assert.Equal(t, "10.0.0.5:502", cfg.PLC.Address)
	assert.Equal(t, 3, cfg.PLC.UnitID)

	regs, err := cfg.RegisterMap()
	require.NoError(t, err)
	assert.Equal(t, model.Register{Address: 40, Scale: 1000}, regs[model.MetricDailyMax])
	assert.Equal(t, model.Register{Address: 0, Scale: 10}, regs[model.MetricSpread])
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[plc]
transport = "rtu"
serial_device = "/dev/ttyUSB1"
baud_rate = 9600

[schedule]
cron = "0 */15 * * * *"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "rtu", cfg.PLC.Transport)
	assert.Equal(t, 9600, cfg.PLC.BaudRate)

	sched, err := cfg.CronSchedule()
	require.NoError(t, err)
	from := time.Date(2024, 5, 1, 10, 7, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC), sched.Next(from))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PLC_ADDRESS", "plc.local:1502")
	t.Setenv("EXCHANGE_RATE_API_KEY", "secret")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "plc.local:1502", cfg.PLC.Address)
	assert.Equal(t, "secret", cfg.Feeds.APIKey)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown transport", "plc:\n  transport: udp\n"},
		{"rtu without device", "plc:\n  transport: rtu\n"},
		{"bad cron", "schedule:\n  cron: not-a-cron\n"},
		{"unknown metric", "registers:\n  bogus:\n    scale: 1\n"},
		{"duplicate address", "registers:\n  daily_max:\n    address: 0\n"},
		{"telegram without chat", "telegram:\n  bot_token: abc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, "config.yaml", tt.body))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeFile(t, "config.yaml", "feeds: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_ShippedExample(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.PLC.RetryDelay)
	assert.False(t, cfg.Feeds.Mock)

	regs, err := cfg.RegisterMap()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRegisterMap(100), regs)
}
