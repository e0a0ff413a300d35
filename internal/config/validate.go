package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Source.APIKey == "" {
		add(baseAPIKeyEnv, "required")
	}
	if cfg.CRM.Token == "" {
		add(hubspotTokenEnv, "required")
	}
	if cfg.Database.DSN == "" {
		add(databaseDSNEnv, "required")
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "", "sqlite", "sqlite3", "postgres", "postgresql", "pg":
	default:
		add(databaseDriverEnv, "must be 'sqlite3' or 'postgres', got %q", cfg.Database.Driver)
	}

	if cfg.Sync.LookbackDays < 1 {
		add(daysToCheckEnv, "must be at least 1, got %d", cfg.Sync.LookbackDays)
	}
	if cfg.Sync.MaxPermanentAttempts < 0 {
		add("sync.maxPermanentAttempts", "must not be negative")
	}
	if cfg.Sync.ClaimLease <= 0 {
		add("sync.claimLease", "must be positive")
	}
	if cfg.Sync.ReconcileLimit < 0 {
		add("sync.reconcileLimit", "must not be negative")
	}
	if cfg.Sync.BacklogDays < 0 {
		add("sync.backlogDays", "must not be negative")
	}
	if cfg.Sync.BacklogLimit < 0 {
		add("sync.backlogLimit", "must not be negative")
	}

	if cfg.Retry.MaxAttempts < 1 {
		add("retry.maxAttempts", "must be at least 1")
	}
	if cfg.Retry.BaseDelay < 0 || cfg.Retry.MaxDelay < 0 {
		add("retry", "delays must not be negative")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		add("retry.jitter", "must be between 0 and 1, got %v", cfg.Retry.Jitter)
	}

	switch cfg.Lock.Backend {
	case "", "none":
	case "redis":
		if cfg.Lock.RedisAddr == "" {
			add(redisAddrEnv, "required when lock backend is redis")
		}
	case "postgres":
		if d := strings.ToLower(cfg.Database.Driver); d != "postgres" && d != "postgresql" && d != "pg" {
			add("lock.backend", "postgres lock requires the postgres database driver")
		}
	default:
		add("lock.backend", "must be 'none', 'redis' or 'postgres', got %q", cfg.Lock.Backend)
	}

	if cfg.Scheduler.CronExpression != "" {
		if _, err := cron.ParseStandard(cfg.Scheduler.CronExpression); err != nil {
			add("scheduler.cronExpression", "invalid: %v", err)
		}
	}

	if (cfg.Notifications.Telegram.BotToken == "") != (cfg.Notifications.Telegram.ChatID == "") {
		add(telegramChatIDEnv, "telegram needs both bot token and chat id")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
