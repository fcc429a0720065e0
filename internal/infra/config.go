package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/strategy"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent on REST and websocket handshakes.
	DefaultUserAgent = "orderflow-go/1.0"

	DefaultFeedURL  = "wss://api-feed.dhan.co"
	DefaultRestURL  = "https://api.dhan.co/v2"
	DefaultTimezone = "Asia/Kolkata"
)

// Config holds every application setting.
// After LoadConfig reads the YAML file, secrets are overridden from the environment.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		Timezone string `yaml:"timezone"`
	} `yaml:"app"`

	Feed struct {
		WSURL               string  `yaml:"ws_url"`
		ClientID            string  `yaml:"client_id"`
		AccessToken         string  `yaml:"access_token"`
		ReconnectBackoffSec int     `yaml:"reconnect_backoff_sec"`
		ReadTimeoutSec      int     `yaml:"read_timeout_sec"`
		PingIntervalSec     int     `yaml:"ping_interval_sec"`
		SubscribeBatchSize  int     `yaml:"subscribe_batch_size"`
		SubscribePerSec     float64 `yaml:"subscribe_per_sec"`
		QueueSize           int     `yaml:"queue_size"`
	} `yaml:"feed"`

	Depth struct {
		Enabled              bool    `yaml:"enabled"`
		RestURL              string  `yaml:"rest_url"`
		PollIntervalSec      int     `yaml:"poll_interval_sec"`
		RequestsPerSec       float64 `yaml:"requests_per_sec"`
		LargeOrderMultiplier float64 `yaml:"large_order_multiplier"`
	} `yaml:"depth"`

	Instruments struct {
		CSVPath string `yaml:"csv_path"`
	} `yaml:"instruments"`

	Engine struct {
		HistoryCapacity int                   `yaml:"history_capacity"`
		MaxDepthAgeSec  int                   `yaml:"max_depth_age_sec"`
		DumpFile        string                `yaml:"dump_file"`
		Scoring         strategy.ScoringTable `yaml:"scoring"`
	} `yaml:"engine"`

	Storage struct {
		Driver      string `yaml:"driver"` // sqlite | postgres
		SQLitePath  string `yaml:"sqlite_path"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"storage"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	} `yaml:"server"`

	Reset struct {
		Enabled   bool   `yaml:"enabled"`
		Time      string `yaml:"time"` // HH:MM in App.Timezone
		ExportDir string `yaml:"export_dir"`
	} `yaml:"reset"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
// A .env file next to the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes YAML, applies environment overrides and defaults, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "orderflow"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = DefaultTimezone
	}
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultFeedURL
	}
	if c.Feed.ReconnectBackoffSec == 0 {
		c.Feed.ReconnectBackoffSec = 2
	}
	if c.Feed.ReadTimeoutSec == 0 {
		c.Feed.ReadTimeoutSec = 60
	}
	if c.Feed.PingIntervalSec == 0 {
		c.Feed.PingIntervalSec = 10
	}
	if c.Feed.SubscribeBatchSize == 0 {
		c.Feed.SubscribeBatchSize = 100
	}
	if c.Feed.SubscribePerSec == 0 {
		c.Feed.SubscribePerSec = 5
	}
	if c.Feed.QueueSize == 0 {
		c.Feed.QueueSize = 8192
	}
	if c.Depth.RestURL == "" {
		c.Depth.RestURL = DefaultRestURL
	}
	if c.Depth.PollIntervalSec == 0 {
		c.Depth.PollIntervalSec = 5
	}
	if c.Depth.RequestsPerSec == 0 {
		c.Depth.RequestsPerSec = 1
	}
	if c.Depth.LargeOrderMultiplier == 0 {
		c.Depth.LargeOrderMultiplier = 2.0
	}
	if c.Instruments.CSVPath == "" {
		c.Instruments.CSVPath = "stock_list.csv"
	}
	if c.Engine.HistoryCapacity == 0 {
		c.Engine.HistoryCapacity = 1000
	}
	if c.Engine.MaxDepthAgeSec == 0 {
		c.Engine.MaxDepthAgeSec = 30
	}
	if c.Engine.DumpFile == "" {
		c.Engine.DumpFile = "panic_dump.json"
	}
	if len(c.Engine.Scoring.Rules) == 0 {
		c.Engine.Scoring = strategy.DefaultScoringTable()
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/orderflow.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 10
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 30
	}
	if c.Reset.Time == "" {
		c.Reset.Time = "09:15"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "orderflow"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity. Every failure is a *domain.ConfigError.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid websocket URL %q", c.Feed.WSURL)}
	}
	if c.Feed.ClientID == "" || c.Feed.AccessToken == "" {
		return &domain.ConfigError{Field: "feed.credentials", Err: errors.New("client id and access token are required")}
	}
	if c.Feed.ReconnectBackoffSec < 0 {
		return &domain.ConfigError{Field: "feed.reconnect_backoff_sec", Err: errors.New("must not be negative")}
	}
	if c.Feed.SubscribeBatchSize < 1 || c.Feed.SubscribeBatchSize > 100 {
		return &domain.ConfigError{Field: "feed.subscribe_batch_size", Err: fmt.Errorf("must be within 1..100, got %d", c.Feed.SubscribeBatchSize)}
	}
	if c.Engine.HistoryCapacity < 1 {
		return &domain.ConfigError{Field: "engine.history_capacity", Err: errors.New("must be positive")}
	}
	if err := c.Engine.Scoring.Validate(); err != nil {
		return &domain.ConfigError{Field: "engine.scoring", Err: err}
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return &domain.ConfigError{Field: "storage.database_url", Err: errors.New("required for the postgres driver")}
		}
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", c.Storage.Driver)}
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return &domain.ConfigError{Field: "app.timezone", Err: err}
	}
	if _, err := time.Parse("15:04", c.Reset.Time); err != nil {
		return &domain.ConfigError{Field: "reset.time", Err: err}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return &domain.ConfigError{Field: "nats.url", Err: errors.New("required when nats is enabled")}
	}
	return nil
}

// Location returns the configured time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// overrideWithEnv overwrites secrets when the matching environment variable is set.
func overrideWithEnv(cfg *Config) {
	if id := os.Getenv("DHAN_CLIENT_ID"); id != "" {
		cfg.Feed.ClientID = id
	}
	if token := os.Getenv("DHAN_ACCESS_TOKEN"); token != "" {
		cfg.Feed.AccessToken = token
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Storage.DatabaseURL = url
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}
}
