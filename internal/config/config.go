package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"SpotBridge/internal/model"
)

const (
	DefaultExchangeRateURL = "https://api.exchangerate-api.com/v4/latest/DKK"
	DefaultPricesURL       = "https://api.energidataservice.dk/dataset/Elspotprices?start=StartOfDay&filter=%7B%22PriceArea%22:[%22DK1%22,%22DK2%22]%7D"
	DefaultSchedule        = "0 0 * * * *"
)

// FeedsConfig describes the two upstream HTTP feeds.
type FeedsConfig struct {
	ExchangeRateURL  string `yaml:"exchange_rate_url" toml:"exchange_rate_url"`
	PricesURL        string `yaml:"prices_url" toml:"prices_url"`
	APIKey           string `yaml:"api_key" toml:"api_key"`
	Proxy            string `yaml:"proxy" toml:"proxy"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	MaxRetries       int    `yaml:"max_retries" toml:"max_retries"`
	CooldownSeconds  int    `yaml:"rate_limit_cooldown_seconds" toml:"rate_limit_cooldown_seconds"`
	BaseDelaySeconds int    `yaml:"base_delay_seconds" toml:"base_delay_seconds"`
	Mock             bool   `yaml:"mock" toml:"mock"` // serve generated prices instead of calling the feeds
}

// PLCConfig describes the Modbus link to the controller.
type PLCConfig struct {
	Transport       string `yaml:"transport" toml:"transport"` // tcp or rtu
	Address         string `yaml:"address" toml:"address"`
	SerialDevice    string `yaml:"serial_device" toml:"serial_device"`
	BaudRate        int    `yaml:"baud_rate" toml:"baud_rate"`
	DataBits        int    `yaml:"data_bits" toml:"data_bits"`
	Parity          string `yaml:"parity" toml:"parity"`
	StopBits        int    `yaml:"stop_bits" toml:"stop_bits"`
	UnitID          int    `yaml:"unit_id" toml:"unit_id"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	ConnectAttempts int    `yaml:"connect_attempts" toml:"connect_attempts"`
	RetryDelay      int    `yaml:"retry_delay_seconds" toml:"retry_delay_seconds"`
	Ping            bool   `yaml:"ping" toml:"ping"`
	ScalingFactor   int    `yaml:"scaling_factor" toml:"scaling_factor"`
}

// RegisterConfig overrides the placement of one metric.
type RegisterConfig struct {
	Address *int `yaml:"address" toml:"address"`
	Scale   int  `yaml:"scale" toml:"scale"`
}

// Config holds all application configuration.
type Config struct {
	Feeds     FeedsConfig               `yaml:"feeds" toml:"feeds"`
	PLC       PLCConfig                 `yaml:"plc" toml:"plc"`
	Registers map[string]RegisterConfig `yaml:"registers" toml:"registers"`
	Schedule  struct {
		Cron             string `yaml:"cron" toml:"cron"`
		AutoDelaySeconds int    `yaml:"auto_delay_seconds" toml:"auto_delay_seconds"`
	} `yaml:"schedule" toml:"schedule"`
	Cache struct {
		PercentilePath string `yaml:"percentile_path" toml:"percentile_path"`
	} `yaml:"cache" toml:"cache"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path"`
	} `yaml:"database" toml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token" toml:"bot_token"`
		ChatID   string `yaml:"chat_id" toml:"chat_id"`
	} `yaml:"telegram" toml:"telegram"`
	Log struct {
		Level       string `yaml:"level" toml:"level"`
		Development bool   `yaml:"development" toml:"development"`
		File        string `yaml:"file" toml:"file"`
	} `yaml:"log" toml:"log"`
	ExportPath string `yaml:"export_path" toml:"export_path"`
}

// Load reads config from a YAML or TOML file, then applies environment variable overrides and defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EXCHANGE_RATE_API_URL"); v != "" {
		c.Feeds.ExchangeRateURL = v
	}
	if v := os.Getenv("ELECTRICITY_PRICES_API_URL"); v != "" {
		c.Feeds.PricesURL = v
	}
	if v := os.Getenv("EXCHANGE_RATE_API_KEY"); v != "" {
		c.Feeds.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Feeds.Proxy = v
	}
	if v := os.Getenv("PLC_ADDRESS"); v != "" {
		c.PLC.Address = v
	}
	if v := os.Getenv("PLC_TRANSPORT"); v != "" {
		c.PLC.Transport = v
	}
	if v, err := strconv.Atoi(os.Getenv("PLC_UNIT_ID")); err == nil {
		c.PLC.UnitID = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Feeds.ExchangeRateURL == "" {
		c.Feeds.ExchangeRateURL = DefaultExchangeRateURL
	}
	if c.Feeds.PricesURL == "" {
		c.Feeds.PricesURL = DefaultPricesURL
	}
	if c.Feeds.TimeoutSeconds == 0 {
		c.Feeds.TimeoutSeconds = 30
	}
	if c.Feeds.MaxRetries == 0 {
		c.Feeds.MaxRetries = 3
	}
	if c.Feeds.CooldownSeconds == 0 {
		c.Feeds.CooldownSeconds = 60
	}
	if c.Feeds.BaseDelaySeconds == 0 {
		c.Feeds.BaseDelaySeconds = 1
	}

	if c.PLC.Transport == "" {
		c.PLC.Transport = "tcp"
	}
	if c.PLC.Address == "" && c.PLC.Transport == "tcp" {
		c.PLC.Address = "192.168.127.254:502"
	}
	if c.PLC.BaudRate == 0 {
		c.PLC.BaudRate = 19200
	}
	if c.PLC.DataBits == 0 {
		c.PLC.DataBits = 8
	}
	if c.PLC.Parity == "" {
		c.PLC.Parity = "E"
	}
	if c.PLC.StopBits == 0 {
		c.PLC.StopBits = 1
	}
	if c.PLC.UnitID == 0 {
		c.PLC.UnitID = 1
	}
	if c.PLC.TimeoutSeconds == 0 {
		c.PLC.TimeoutSeconds = 10
	}
	if c.PLC.ConnectAttempts == 0 {
		c.PLC.ConnectAttempts = 3
	}
	if c.PLC.RetryDelay == 0 {
		c.PLC.RetryDelay = 2
	}
	if c.PLC.ScalingFactor == 0 {
		c.PLC.ScalingFactor = 100
	}

	if c.Schedule.Cron == "" {
		c.Schedule.Cron = DefaultSchedule
	}
	if c.Schedule.AutoDelaySeconds == 0 {
		c.Schedule.AutoDelaySeconds = 30
	}
	if c.Cache.PercentilePath == "" {
		c.Cache.PercentilePath = "data/percentiles_cache.bin"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.ExportPath == "" {
		c.ExportPath = "SpotPrices.csv"
	}
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Feeds.MaxRetries < 1 {
		return fmt.Errorf("feeds.max_retries must be at least 1")
	}
	switch c.PLC.Transport {
	case "tcp":
		if c.PLC.Address == "" {
			return fmt.Errorf("plc.address is required for tcp transport")
		}
	case "rtu":
		if c.PLC.SerialDevice == "" {
			return fmt.Errorf("plc.serial_device is required for rtu transport")
		}
	default:
		return fmt.Errorf("plc.transport must be tcp or rtu, got %q", c.PLC.Transport)
	}
	if c.PLC.UnitID < 0 || c.PLC.UnitID > 247 {
		return fmt.Errorf("plc.unit_id must be within 0..247")
	}
	if c.PLC.ScalingFactor <= 0 {
		return fmt.Errorf("plc.scaling_factor must be positive")
	}
	if _, err := c.CronSchedule(); err != nil {
		return err
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	regs, err := c.RegisterMap()
	if err != nil {
		return err
	}
	return regs.Validate()
}

// CronSchedule parses the synchronization schedule (seconds field included).
func (c *Config) CronSchedule() (cron.Schedule, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := parser.Parse(c.Schedule.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse schedule.cron %q: %w", c.Schedule.Cron, err)
	}
	return s, nil
}

// RegisterMap overlays the configured register placements onto the default layout.
func (c *Config) RegisterMap() (model.RegisterMap, error) {
	m := model.DefaultRegisterMap(c.PLC.ScalingFactor)
	for name, rc := range c.Registers {
		metric := model.Metric(name)
		r, ok := m[metric]
		if !ok {
			return nil, fmt.Errorf("registers: unknown metric %q", name)
		}
		if rc.Address != nil {
			if *rc.Address < 0 || *rc.Address > 0xFFFF {
				return nil, fmt.Errorf("registers.%s: address %d out of range", name, *rc.Address)
			}
			r.Address = uint16(*rc.Address)
		}
		if rc.Scale != 0 {
			r.Scale = rc.Scale
		}
		m[metric] = r
	}
	return m, nil
}

// FeedTimeout is the per-request HTTP timeout.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feeds.TimeoutSeconds) * time.Second
}

// AutoDelay is the grace period before unattended mode engages.
func (c *Config) AutoDelay() time.Duration {
	return time.Duration(c.Schedule.AutoDelaySeconds) * time.Second
}
