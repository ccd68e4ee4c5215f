package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ratewatch/internal/logging"
)

type Config struct {
	BotToken        string  `json:"bot_token"`
	DataDir         string  `json:"data_dir"`
	InitialAdminIDs []int64 `json:"initial_admin_ids,omitempty"`

	// Upstream source tuning. Zero values fall back to defaults below.
	Source Source `json:"source,omitempty"`

	// Daily DB backup, cron expression in Tehran time. Empty disables.
	BackupSchedule string `json:"backup_schedule,omitempty"`

	Log logging.Config `json:"log,omitempty"`
}

type Source struct {
	HomeURL string `json:"home_url,omitempty"`
	DataURL string `json:"data_url,omitempty"`

	// TokenMaxAge bounds how long an extracted token is trusted before the
	// landing page is re-fetched. Observed deployments run 10m to 1h.
	TokenMaxAge Duration `json:"token_max_age,omitempty"`
	HTTPTimeout Duration `json:"http_timeout,omitempty"`
}

const (
	DefaultHomeURL     = "https://bonbast.com/"
	DefaultDataURL     = "https://bonbast.com/json"
	DefaultTokenMaxAge = 10 * time.Minute
	DefaultHTTPTimeout = 12 * time.Second
)

// Duration unmarshals Go duration strings ("10m", "12s") from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func DefaultDataDir() string {
	if v := os.Getenv("RATEWATCH_DATA_DIR"); v != "" {
		return v
	}
	return "/var/lib/ratewatch"
}

func DefaultConfigPath() string {
	if v := os.Getenv("RATEWATCH_CONFIG"); v != "" {
		return v
	}
	return "/etc/ratewatch/config.json"
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	var cfg Config
	// 1) Try file
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config json: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// 2) Env fallback / override
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("RATEWATCH_BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RATEWATCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RATEWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RATEWATCH_INITIAL_ADMINS"); v != "" && len(cfg.InitialAdminIDs) == 0 {
		cfg.InitialAdminIDs = parseIDList(v)
	}

	// Defaults
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	cfg.DataDir = filepath.Clean(cfg.DataDir)
	if cfg.Source.HomeURL == "" {
		cfg.Source.HomeURL = DefaultHomeURL
	}
	if cfg.Source.DataURL == "" {
		cfg.Source.DataURL = DefaultDataURL
	}
	if cfg.Source.TokenMaxAge <= 0 {
		cfg.Source.TokenMaxAge = Duration(DefaultTokenMaxAge)
	}
	if cfg.Source.HTTPTimeout <= 0 {
		cfg.Source.HTTPTimeout = Duration(DefaultHTTPTimeout)
	}

	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("missing bot_token (set in %s or BOT_TOKEN env)", path)
	}
	return cfg, nil
}

func parseIDList(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err == nil {
			out = append(out, id)
		}
	}
	return out
}
