// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lot_monitor/internal/model"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken   string
	DatabasePath       string
	LogLevel           string
	HTTPAddr           string
	AllowedUsers       []int64
	NotifyChatIDs      []int64
	FeedURLs           []string
	PollInterval       time.Duration
	CleanupInterval    time.Duration
	RedisAddr          string
	FiltersFile        string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables. Values from a .env
// file in the working directory are loaded first, without overriding
// variables that are already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	allowedUsers, err := parseIDs("ALLOWED_USERS")
	if err != nil {
		return nil, err
	}
	notifyChats, err := parseIDs("NOTIFY_CHAT_IDS")
	if err != nil {
		return nil, err
	}
	poll, err := parseDuration("POLL_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	cleanup, err := parseDuration("CLEANUP_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:       getenv("DATABASE_PATH", "./data/monitor.db"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		AllowedUsers:       allowedUsers,
		NotifyChatIDs:      notifyChats,
		FeedURLs:           splitList(os.Getenv("FEED_URLS")),
		PollInterval:       poll,
		CleanupInterval:    cleanup,
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		FiltersFile:        os.Getenv("FILTERS_FILE"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// BotEnabled reports whether a Telegram token is configured.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// LoadFilterFile reads a YAML filter set. Keys missing from the file keep the
// values of model.DefaultFilterSet(now).
func LoadFilterFile(path string, now time.Time) (model.FilterSet, error) {
	f := model.DefaultFilterSet(now)
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read filter file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse filter file %s: %w", path, err)
	}
	if f.PriceMin < 0 || f.PriceMax < f.PriceMin || f.PriceMax == 0 {
		return f, fmt.Errorf("filter file %s: invalid price range %g-%g", path, f.PriceMin, f.PriceMax)
	}
	if !f.DateTo.IsZero() && f.DateTo.Before(f.DateFrom) {
		return f, fmt.Errorf("filter file %s: date_to before date_from", path)
	}
	switch f.SortMode {
	case model.SortDefault, model.SortEstimateAsc:
	default:
		return f, fmt.Errorf("filter file %s: unknown sort mode %q", path, f.SortMode)
	}
	f.LastUpdated = now
	return f, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseIDs(key string) ([]int64, error) {
	var ids []int64
	for _, s := range splitList(os.Getenv(key)) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
