package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Browser    BrowserConfig    `yaml:"browser"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Run        RunConfig        `yaml:"run"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Slack      SlackConfig      `yaml:"slack"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LogLevel   string           `yaml:"log_level"`
}

// RabbitMQConfig configures the video ad hand-off. An empty URL disables publishing.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type BrowserConfig struct {
	// Driver is "chrome" for a live browser or "snapshot" to replay saved pages.
	Driver      string        `yaml:"driver"`
	SnapshotDir string        `yaml:"snapshot_dir"`
	Headless    bool          `yaml:"headless"`
	NoSandbox   bool          `yaml:"no_sandbox"`
	BrowserBin  string        `yaml:"browser_bin"`
	ControlURL  string        `yaml:"control_url"`
	Stealth     bool          `yaml:"stealth"`
	PageLoad    time.Duration `yaml:"page_load_timeout"`
}

type ScraperConfig struct {
	BaseURL              string        `yaml:"base_url"`
	SettleWait           time.Duration `yaml:"settle_wait"`
	EmptyRecheckWait     time.Duration `yaml:"empty_recheck_wait"`
	LoadMoreWait         time.Duration `yaml:"load_more_wait"`
	LoadingShortWait     time.Duration `yaml:"loading_short_wait"`
	LoadingLongWait      time.Duration `yaml:"loading_long_wait"`
	MaxEmptyLoadMore     int           `yaml:"max_empty_load_more"`
	NavigationsPerMinute float64       `yaml:"navigations_per_minute"`
	Retry                RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type RunConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MinDailyInterval time.Duration `yaml:"min_daily_interval"`
	ItemTimeout      time.Duration `yaml:"item_timeout"`
	RunTimeout       time.Duration `yaml:"run_timeout"`
	HistoryStart     string        `yaml:"history_start"`
	DataDir          string        `yaml:"data_dir"`
}

// HistoryStartDate parses HistoryStart (YYYY-MM-DD).
func (r RunConfig) HistoryStartDate() (time.Time, error) {
	t, err := time.Parse(time.DateOnly, r.HistoryStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse history_start: %w", err)
	}
	return t, nil
}

type ThresholdsConfig struct {
	MinAds           int           `yaml:"min_ads"`
	MinAdvertisers   int           `yaml:"min_advertisers"`
	MaxPerAdDuration time.Duration `yaml:"max_per_ad_duration"`
	MaxUnknownRatio  float64       `yaml:"max_unknown_ratio"`
}

// SlackConfig holds incoming webhook URLs. Empty URLs disable that channel.
type SlackConfig struct {
	InfoWebhook string        `yaml:"info_webhook"`
	WarnWebhook string        `yaml:"warn_webhook"`
	WarnMention string        `yaml:"warn_mention"`
	Timeout     time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if _, err := cfg.Run.HistoryStartDate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "adscraper"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "video_ads"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "youtube_video_ads"
	}
	if c.Browser.Driver == "" {
		c.Browser.Driver = "chrome"
	}
	if c.Browser.PageLoad == 0 {
		c.Browser.PageLoad = 60 * time.Second
	}
	if c.Scraper.SettleWait == 0 {
		c.Scraper.SettleWait = 2 * time.Second
	}
	if c.Scraper.EmptyRecheckWait == 0 {
		c.Scraper.EmptyRecheckWait = 10 * time.Second
	}
	if c.Scraper.LoadMoreWait == 0 {
		c.Scraper.LoadMoreWait = 2 * time.Second
	}
	if c.Scraper.LoadingShortWait == 0 {
		c.Scraper.LoadingShortWait = 1 * time.Second
	}
	if c.Scraper.LoadingLongWait == 0 {
		c.Scraper.LoadingLongWait = 5 * time.Second
	}
	if c.Scraper.MaxEmptyLoadMore == 0 {
		c.Scraper.MaxEmptyLoadMore = 1
	}
	if c.Scraper.Retry.MaxAttempts == 0 {
		c.Scraper.Retry.MaxAttempts = 5
	}
	if c.Scraper.Retry.InitialBackoff == 0 {
		c.Scraper.Retry.InitialBackoff = 5 * time.Second
	}
	if c.Scraper.Retry.MaxBackoff == 0 {
		c.Scraper.Retry.MaxBackoff = 1 * time.Minute
	}
	if c.Run.Interval == 0 {
		c.Run.Interval = 24 * time.Hour
	}
	if c.Run.MinDailyInterval == 0 {
		c.Run.MinDailyInterval = 20 * time.Hour
	}
	if c.Run.ItemTimeout == 0 {
		c.Run.ItemTimeout = 2 * time.Hour
	}
	if c.Run.RunTimeout == 0 {
		c.Run.RunTimeout = 23 * time.Hour
	}
	if c.Run.HistoryStart == "" {
		c.Run.HistoryStart = "2020-01-01"
	}
	if c.Run.DataDir == "" {
		c.Run.DataDir = "data"
	}
	if c.Thresholds.MinAds == 0 {
		c.Thresholds.MinAds = 50
	}
	if c.Thresholds.MinAdvertisers == 0 {
		c.Thresholds.MinAdvertisers = 10
	}
	if c.Thresholds.MaxPerAdDuration == 0 {
		c.Thresholds.MaxPerAdDuration = 3 * time.Second
	}
	if c.Thresholds.MaxUnknownRatio == 0 {
		c.Thresholds.MaxUnknownRatio = 0.1
	}
	if c.Slack.Timeout == 0 {
		c.Slack.Timeout = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
