// Package config reads daemon settings from the environment, loading a .env
// file first when one exists.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything cmd/mixplayd needs to start.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	CORSOrigins []string

	AdminUser         string
	AdminPasswordHash string
	TokenSecret       []byte
	// RateLimitPerMinute caps control API login attempts per IP. Zero disables it.
	RateLimitPerMinute int

	APIBaseURL  string
	AccessToken string

	Interactive Interactive
	Chat        Chat
}

type Interactive struct {
	Enabled             bool
	ProjectVersionID    uint32
	ShareCode           string
	Endpoints           []string
	PerParticipantState bool
	Rejoin              bool
	SweepStale          bool
	TickInterval        time.Duration
}

type Chat struct {
	DefaultRoom    string
	JoinOnStart    []string
	HistoryMax     int
	RequestHistory bool
	Rejoin         bool
	MessagesPerWin int
	MessageWindow  time.Duration
	ArchiveBuffer  int
	AnonymousJoins bool
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which has the os.LookupEnv signature.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		HTTPAddr:           e.str("MIXPLAY_HTTP_ADDR", ":8080"),
		DatabaseURL:        e.str("DATABASE_URL", ""),
		CORSOrigins:        e.list("MIXPLAY_CORS_ORIGINS"),
		AdminUser:          e.str("MIXPLAY_ADMIN_USER", "admin"),
		AdminPasswordHash:  e.str("MIXPLAY_ADMIN_PASSWORD_HASH", ""),
		TokenSecret:        []byte(e.str("MIXPLAY_TOKEN_SECRET", "")),
		RateLimitPerMinute: e.integer("MIXPLAY_LOGIN_RATE_LIMIT", 20),
		APIBaseURL:         e.str("MIXPLAY_API_BASE_URL", "https://mixer.com/api/v1"),
		AccessToken:        e.str("MIXPLAY_ACCESS_TOKEN", ""),
		Interactive: Interactive{
			ProjectVersionID:    uint32(e.integer("MIXPLAY_PROJECT_VERSION_ID", 0)),
			ShareCode:           e.str("MIXPLAY_SHARE_CODE", ""),
			Endpoints:           e.list("MIXPLAY_INTERACTIVE_ENDPOINTS"),
			PerParticipantState: e.boolean("MIXPLAY_PER_PARTICIPANT_STATE", true),
			Rejoin:              e.boolean("MIXPLAY_INTERACTIVE_REJOIN", true),
			SweepStale:          e.boolean("MIXPLAY_PARTICIPANT_SWEEP", false),
			TickInterval:        e.duration("MIXPLAY_TICK_INTERVAL", 100*time.Millisecond),
		},
		Chat: Chat{
			DefaultRoom:    e.str("MIXPLAY_CHAT_DEFAULT_ROOM", ""),
			JoinOnStart:    e.list("MIXPLAY_CHAT_ROOMS"),
			HistoryMax:     e.integer("MIXPLAY_CHAT_HISTORY_MAX", 100),
			RequestHistory: e.boolean("MIXPLAY_CHAT_REQUEST_HISTORY", true),
			Rejoin:         e.boolean("MIXPLAY_CHAT_REJOIN", true),
			MessagesPerWin: e.integer("MIXPLAY_CHAT_RATE_LIMIT", 20),
			MessageWindow:  e.duration("MIXPLAY_CHAT_RATE_WINDOW", 30*time.Second),
			ArchiveBuffer:  e.integer("MIXPLAY_ARCHIVE_BUFFER", 256),
			AnonymousJoins: e.boolean("MIXPLAY_CHAT_ANONYMOUS", false),
		},
	}
	if e.err != nil {
		return Config{}, e.err
	}
	cfg.Interactive.Enabled = cfg.Interactive.ProjectVersionID != 0
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Interactive.Enabled && c.AccessToken == "" && c.Interactive.ShareCode == "" {
		return fmt.Errorf("MIXPLAY_ACCESS_TOKEN is required for interactive sessions without a share code")
	}
	if c.AdminPasswordHash != "" && len(c.TokenSecret) == 0 {
		return fmt.Errorf("MIXPLAY_TOKEN_SECRET is required when the control API login is enabled")
	}
	if c.Chat.HistoryMax < 0 {
		return fmt.Errorf("MIXPLAY_CHAT_HISTORY_MAX must not be negative")
	}
	return nil
}

// env collects the first parse error so Load can report it once.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) list(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *env) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: %w", key, err)
	}
}
