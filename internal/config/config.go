package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Reddit   RedditConfig   `yaml:"reddit"`
	Bluesky  BlueskyConfig  `yaml:"bluesky"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Media    MediaConfig    `yaml:"media"`
	Storage  StorageConfig  `yaml:"storage"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
}

// RedditConfig holds source feed configuration.
type RedditConfig struct {
	Subreddit     string        `yaml:"subreddit" envconfig:"REDDIT_SUBREDDIT" default:"formuladank"`
	Limit         int           `yaml:"limit" envconfig:"REDDIT_LIMIT" default:"50"`
	UserAgent     string        `yaml:"user_agent" envconfig:"REDDIT_USER_AGENT" default:"danksky/1.0"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"REDDIT_TIMEOUT" default:"30s"`
	RecencyWindow time.Duration `yaml:"recency_window" envconfig:"REDDIT_RECENCY_WINDOW" default:"90m"`
}

// BlueskyConfig holds destination platform configuration.
type BlueskyConfig struct {
	Host          string        `yaml:"host" envconfig:"BLUESKY_HOST" default:"https://bsky.social"`
	Identifier    string        `yaml:"identifier" envconfig:"BLUESKY_IDENTIFIER"`
	Password      string        `yaml:"password" envconfig:"BLUESKY_PASSWORD"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"BLUESKY_TIMEOUT" default:"2m"`
	LoginAttempts int           `yaml:"login_attempts" envconfig:"BLUESKY_LOGIN_ATTEMPTS" default:"5"`
	LoginBackoff  time.Duration `yaml:"login_backoff" envconfig:"BLUESKY_LOGIN_BACKOFF" default:"10s"`
}

// FetchConfig holds media download configuration.
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout" envconfig:"FETCH_TIMEOUT" default:"30s"`
	MaxAttempts int           `yaml:"max_attempts" envconfig:"FETCH_MAX_ATTEMPTS" default:"3"`
	RetryDelay  time.Duration `yaml:"retry_delay" envconfig:"FETCH_RETRY_DELAY" default:"5s"`
	UserAgent   string        `yaml:"user_agent" envconfig:"FETCH_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
}

// MediaConfig holds normalization and posting limits.
type MediaConfig struct {
	MaxPostKB        int64    `yaml:"max_post_kb" envconfig:"MEDIA_MAX_POST_KB" default:"900"`
	PostCharLimit    int      `yaml:"post_char_limit" envconfig:"MEDIA_POST_CHAR_LIMIT" default:"300"`
	MaxImagesPerPost int      `yaml:"max_images_per_post" envconfig:"MEDIA_MAX_IMAGES_PER_POST" default:"4"`
	Hashtags         []string `yaml:"hashtags" envconfig:"MEDIA_HASHTAGS" default:"f1,formula1,memes"`
	RaceHashtag      string   `yaml:"race_hashtag" envconfig:"MEDIA_RACE_HASHTAG" default:"AustrianGP"`
}

// MaxPostBytes returns the blob size budget in bytes.
func (c *MediaConfig) MaxPostBytes() int64 {
	return c.MaxPostKB * 1024
}

// AllHashtags returns the fixed hashtag set plus the race hashtag.
func (c *MediaConfig) AllHashtags() []string {
	tags := make([]string, 0, len(c.Hashtags)+1)
	tags = append(tags, c.Hashtags...)
	if c.RaceHashtag != "" {
		tags = append(tags, c.RaceHashtag)
	}
	return tags
}

// StorageConfig holds scratch and persistent file locations.
type StorageConfig struct {
	ScratchPath string `yaml:"scratch_path" envconfig:"STORAGE_SCRATCH_PATH" default:"data/scratch"`
	LedgerPath  string `yaml:"ledger_path" envconfig:"STORAGE_LEDGER_PATH" default:"data/posted_ids.json"`
	HistoryPath string `yaml:"history_path" envconfig:"STORAGE_HISTORY_PATH" default:"data/history.db"`
}

// ScheduleConfig holds the polling trigger configuration.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"SCHEDULE_INTERVAL" default:"5m"`
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"SERVER_ENABLED" default:"true"`
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9851"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Bluesky.Identifier == "" {
		return fmt.Errorf("BLUESKY_IDENTIFIER is required")
	}
	if c.Bluesky.Password == "" {
		return fmt.Errorf("BLUESKY_PASSWORD is required")
	}
	if c.Reddit.Subreddit == "" {
		return fmt.Errorf("REDDIT_SUBREDDIT is required")
	}
	if c.Media.MaxPostKB <= 0 {
		return fmt.Errorf("MEDIA_MAX_POST_KB must be positive")
	}
	if c.Media.PostCharLimit <= 0 {
		return fmt.Errorf("MEDIA_POST_CHAR_LIMIT must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
