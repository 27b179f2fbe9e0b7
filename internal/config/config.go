package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface consumed by the daemon. Values
// come from an optional config.yaml plus environment overrides; the
// environment names match the historical deployment.
type Config struct {
	// Task source (Nextcloud Deck API).
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"nextcloud_user"`
	Password string `mapstructure:"nextcloud_pass"`

	// Delivery platform.
	BotToken    string `mapstructure:"bot_token"`
	ForumChatID int64  `mapstructure:"forum_chat_id"`
	// LogTopicID is the global fallback delivery thread. Nil disables the
	// shared log thread entirely.
	LogTopicID *int64 `mapstructure:"-"`

	// Persistence.
	DBPath string `mapstructure:"db_path"`

	// Engine timing.
	PollInterval      time.Duration `mapstructure:"-"`
	DeadlinesInterval time.Duration `mapstructure:"-"`

	// Escalation tuning.
	QuietHours  QuietHours `mapstructure:"-"`
	RepeatDays  int        `mapstructure:"deadline_repeat_days"`
	ExcludedIDs map[int64]struct{}

	// Team timezone; all fixed-hour anchors and quiet hours are evaluated
	// in this location.
	Timezone *time.Location

	Debug bool
}

// QuietHours is a half-open local-time hour range [Start, End) during which
// no reminder dispatch occurs. Start > End wraps past midnight.
type QuietHours struct {
	Start int
	End   int
}

// Contains reports whether the local hour falls inside the quiet range.
func (q QuietHours) Contains(hour int) bool {
	if q.Start > q.End {
		return hour >= q.Start || hour < q.End
	}
	return q.Start <= hour && hour < q.End
}

// ParseQuietHours parses a "0-8" style range. A malformed value falls back
// to 0-1, matching the historical behavior.
func ParseQuietHours(s string) QuietHours {
	a, b, ok := strings.Cut(s, "-")
	if ok {
		start, err1 := strconv.Atoi(strings.TrimSpace(a))
		end, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 == nil && err2 == nil && start >= 0 && start < 24 && end >= 0 && end <= 24 {
			return QuietHours{Start: start, End: end}
		}
	}
	return QuietHours{Start: 0, End: 1}
}

// parseExcluded parses a comma-separated card id list into a set.
func parseExcluded(s string) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// loadTimezone resolves the team timezone, falling back to fixed UTC+3 when
// the name cannot be loaded.
func loadTimezone(name string) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("UTC+3", 3*60*60)
}

// requiredKeys must be present (via file or environment) for the daemon to
// start.
var requiredKeys = []string{
	"bot_token", "base_url", "nextcloud_user", "nextcloud_pass",
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// Map the historical env names onto config keys.
	for key, env := range map[string]string{
		"bot_token":            "BOT_TOKEN",
		"base_url":             "BASE_URL",
		"nextcloud_user":       "NEXTCLOUD_USER",
		"nextcloud_pass":       "NEXTCLOUD_PASS",
		"forum_chat_id":        "FORUM_CHAT_ID",
		"bot_log_topic_id":     "BOT_LOG_TOPIC_ID",
		"db_path":              "DB_PATH",
		"poll_interval":        "POLL_INTERVAL",
		"deadlines_interval":   "DEADLINES_INTERVAL",
		"quiet_hours":          "QUIET_HOURS",
		"deadline_repeat_days": "DEADLINE_REPEAT_DAYS",
		"excluded_card_ids":    "EXCLUDED_CARD_IDS",
		"timezone":             "TIMEZONE",
		"app_debug":            "APP_DEBUG",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	v.SetDefault("db_path", "deck-notify.db")
	v.SetDefault("poll_interval", 60)
	v.SetDefault("deadlines_interval", 120)
	v.SetDefault("quiet_hours", "0-8")
	v.SetDefault("deadline_repeat_days", 2)
	v.SetDefault("timezone", "Europe/Moscow")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(*os.PathError); !ok {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("reading config %s: %w", path, err)
				}
			}
		}
	}

	var missing []string
	for _, key := range requiredKeys {
		if v.GetString(key) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		BaseURL:           strings.TrimRight(v.GetString("base_url"), "/"),
		Username:          v.GetString("nextcloud_user"),
		Password:          v.GetString("nextcloud_pass"),
		BotToken:          v.GetString("bot_token"),
		ForumChatID:       v.GetInt64("forum_chat_id"),
		DBPath:            v.GetString("db_path"),
		PollInterval:      time.Duration(v.GetInt("poll_interval")) * time.Second,
		DeadlinesInterval: time.Duration(v.GetInt("deadlines_interval")) * time.Second,
		QuietHours:        ParseQuietHours(v.GetString("quiet_hours")),
		RepeatDays:        v.GetInt("deadline_repeat_days"),
		ExcludedIDs:       parseExcluded(v.GetString("excluded_card_ids")),
		Timezone:          loadTimezone(v.GetString("timezone")),
		Debug:             v.GetString("app_debug") == "1",
	}

	// "None" is the historical way to disable the fallback thread.
	if raw := v.GetString("bot_log_topic_id"); raw != "" && raw != "None" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing BOT_LOG_TOPIC_ID %q: %w", raw, err)
		}
		cfg.LogTopicID = &id
	}

	return cfg, nil
}
