package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"TenderSync/internal/retry"
)

const (
	defaultTimezone   = "Europe/Lisbon"
	defaultSearchName = "Default Automation"
	configPathEnv     = "TENDERSYNC_CONFIG"
	logLevelEnv       = "LOG_LEVEL"
	baseAPIKeyEnv     = "BASE_API_KEY"
	hubspotTokenEnv   = "HUBSPOT_API_TOKEN"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	daysToCheckEnv    = "DAYS_TO_CHECK"
	savedSearchEnv    = "AUTOMATION_SAVED_SEARCH"
	redisAddrEnv      = "REDIS_ADDR"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	snapshotBucketEnv = "SNAPSHOT_BUCKET"
	pushgatewayEnv    = "PUSHGATEWAY_URL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Sync          SyncConfig         `yaml:"sync"`
	Retry         RetryConfig        `yaml:"retry"`
	Source        SourceConfig       `yaml:"source"`
	CRM           CRMConfig          `yaml:"crm"`
	Lock          LockConfig         `yaml:"lock"`
	Snapshot      SnapshotConfig     `yaml:"snapshot"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the state store. Driver is sqlite3 or postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when serve mode runs the pipeline and which calendar
// publication days belong to.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SyncConfig controls the processing window and idempotency limits.
type SyncConfig struct {
	LookbackDays         int           `yaml:"lookbackDays"`
	SearchName           string        `yaml:"searchName"`
	MaxPermanentAttempts int           `yaml:"maxPermanentAttempts"`
	ClaimLease           time.Duration `yaml:"claimLease"`
	ReconcileLimit       int           `yaml:"reconcileLimit"`
	// BacklogDays bounds how old unsettled announcements may be to be retried.
	BacklogDays  int `yaml:"backlogDays"`
	BacklogLimit int `yaml:"backlogLimit"`
}

// RetryConfig parameterizes backoff for calls to external systems.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Jitter      float64       `yaml:"jitter"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}
}

// SourceConfig points at the Base.gov.pt API.
type SourceConfig struct {
	BaseURL  string        `yaml:"baseUrl"`
	APIKey   string        `yaml:"apiKey"`
	CacheTTL time.Duration `yaml:"cacheTtl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CRMConfig configures HubSpot deal creation.
type CRMConfig struct {
	BaseURL   string        `yaml:"baseUrl"`
	Token     string        `yaml:"token"`
	DealStage string        `yaml:"dealStage"`
	Pipeline  string        `yaml:"pipeline"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LockConfig selects the overlap guard: none, redis or postgres.
type LockConfig struct {
	Backend       string        `yaml:"backend"`
	Name          string        `yaml:"name"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
}

// SnapshotConfig keeps the SQLite file in S3 between ephemeral runs.
type SnapshotConfig struct {
	Bucket       string `yaml:"bucket"`
	Key          string `yaml:"key"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// Enabled reports whether a bucket is configured.
func (s SnapshotConfig) Enabled() bool { return s.Bucket != "" }

// MetricsConfig wires Prometheus export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgatewayUrl"`
	Job            string `yaml:"job"`
	ListenAddr     string `yaml:"listenAddr"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	// BaseURL overrides the public Bot API endpoint.
	BaseURL string `yaml:"baseUrl"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool { return t.BotToken != "" && t.ChatID != "" }

// Load reads the file named by TENDERSYNC_CONFIG (if any), a .env file, and
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: cannot read .env: %v", err)
	}

	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		// Keys absent from the file keep their defaults.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(baseAPIKeyEnv); v != "" {
		c.Source.APIKey = v
	}

	if v := os.Getenv(hubspotTokenEnv); v != "" {
		c.CRM.Token = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(daysToCheckEnv); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Sync.LookbackDays = n
		} else {
			log.Printf("config: invalid %s %q, keeping %d", daysToCheckEnv, v, c.Sync.LookbackDays)
		}
	}

	if v := os.Getenv(savedSearchEnv); v != "" {
		c.Sync.SearchName = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Lock.RedisAddr = v
		if c.Lock.Backend == "" || c.Lock.Backend == "none" {
			c.Lock.Backend = "redis"
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(snapshotBucketEnv); v != "" {
		c.Snapshot.Bucket = v
	}

	if v := os.Getenv(pushgatewayEnv); v != "" {
		c.Metrics.PushgatewayURL = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		c.Scheduler.Timezone = defaultTimezone
		loc, err = time.LoadLocation(defaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	policy := retry.DefaultPolicy()
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{Driver: "sqlite3", DSN: "tendersync.db"},
		Scheduler: SchedulerConfig{CronExpression: "0 7 * * *", Timezone: defaultTimezone},
		Sync: SyncConfig{
			LookbackDays:         1,
			SearchName:           defaultSearchName,
			MaxPermanentAttempts: 3,
			ClaimLease:           15 * time.Minute,
			ReconcileLimit:       500,
			BacklogDays:          30,
			BacklogLimit:         1000,
		},
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
			Jitter:      policy.Jitter,
		},
		Source: SourceConfig{
			BaseURL:  "https://www.base.gov.pt/APIBase2",
			CacheTTL: 10 * time.Minute,
			Timeout:  30 * time.Second,
		},
		CRM: CRMConfig{
			BaseURL:   "https://api.hubapi.com",
			DealStage: "appointmentscheduled",
			Pipeline:  "default",
			Timeout:   30 * time.Second,
		},
		Lock:    LockConfig{Backend: "none", Name: "tendersync:run", TTL: 30 * time.Minute},
		Metrics: MetricsConfig{Job: "tendersync", ListenAddr: ":9090"},
	}
}
