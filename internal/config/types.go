package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Groups   GroupsConfig   `yaml:"groups"`
	Relay    RelayConfig    `yaml:"relay"`
	Publish  PublishConfig  `yaml:"publish"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `yaml:"poll_timeout"`
}

type GroupsConfig struct {
	// AdminGroupIDs lists the fansub admin groups; the entry at
	// PushGroupIndex receives automatic feed pushes.
	AdminGroupIDs  []int64 `yaml:"admin_group_ids"`
	PushGroupIndex int     `yaml:"push_group_index"`
	SenderIDs      []int64 `yaml:"sender_ids"`
	MasterIDs      []int64 `yaml:"master_ids"`
}

type RelayConfig struct {
	ImageWindow string `yaml:"image_window"` // how long photos are collected after a caption
	Debounce    string `yaml:"debounce"`     // quiet period before publishing
	WindowGrace string `yaml:"window_grace"` // pause between forced close and the next window
	SweepAt     string `yaml:"sweep_at"`     // "HH:MM" daily sweep time
	MaxItemAge  string `yaml:"max_item_age"` // items older than this are evicted
}

type PublishConfig struct {
	BaseURL      string `yaml:"base_url"`
	Topic        string `yaml:"topic"`
	SessData     string `yaml:"sessdata"`
	CSRF         string `yaml:"csrf"`
	SettleDelay  string `yaml:"settle_delay"`
	PollInterval string `yaml:"poll_interval"`
	PollAttempts int    `yaml:"poll_attempts"`
	RatePerMin   int    `yaml:"rate_per_min"`
}

type IngestConfig struct {
	Blog  BlogConfig  `yaml:"blog"`
	Tweet TweetConfig `yaml:"tweet"`
}

type BlogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MemberAbbr string `yaml:"member_abbr"`
	CheckEvery string `yaml:"check_every"`
}

type TweetConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Keywords    []string `yaml:"keywords"`
	BearerToken string   `yaml:"bearer_token"`
	Proxy       string   `yaml:"proxy"`
	CheckEvery  string   `yaml:"check_every"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Console bool        `yaml:"console"`
	File    LoggingFile `yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or empty for disabled
	Path   string `yaml:"path"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Groups.AdminGroupIDs) == 0 {
		return errors.New("groups.admin_group_ids must not be empty")
	}
	if idx := c.Groups.PushGroupIndex; idx < 0 || idx >= len(c.Groups.AdminGroupIDs) {
		return fmt.Errorf("groups.push_group_index %d out of range", idx)
	}
	for name, v := range map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"relay.image_window":    c.Relay.ImageWindow,
		"relay.debounce":        c.Relay.Debounce,
		"relay.window_grace":    c.Relay.WindowGrace,
		"relay.max_item_age":    c.Relay.MaxItemAge,
		"publish.settle_delay":  c.Publish.SettleDelay,
		"publish.poll_interval": c.Publish.PollInterval,
	} {
		if _, err := DurationOrDefault(v, 0); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// DurationOrDefault parses a duration string, returning def when empty.
func DurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
