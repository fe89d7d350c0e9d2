package config

import (
	"testing"
	"time"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("FromLookup: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Chat.HistoryMax != 100 || !cfg.Chat.RequestHistory {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Interactive.Enabled {
		t.Error("interactive should be off without a project version")
	}
	if cfg.Interactive.TickInterval != 100*time.Millisecond {
		t.Errorf("tick = %s", cfg.Interactive.TickInterval)
	}
}

func TestFromLookup_Values(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"MIXPLAY_PROJECT_VERSION_ID":    "1234",
		"MIXPLAY_ACCESS_TOKEN":          "tok",
		"MIXPLAY_INTERACTIVE_ENDPOINTS": "wss://a/ , wss://b/,",
		"MIXPLAY_CHAT_ROOMS":            "shroud,ninja",
		"MIXPLAY_PARTICIPANT_SWEEP":     "true",
		"MIXPLAY_CHAT_RATE_WINDOW":      "1m",
	}))
	if err != nil {
		t.Fatalf("FromLookup: %v", err)
	}
	if !cfg.Interactive.Enabled || cfg.Interactive.ProjectVersionID != 1234 {
		t.Errorf("interactive = %+v", cfg.Interactive)
	}
	if len(cfg.Interactive.Endpoints) != 2 || cfg.Interactive.Endpoints[0] != "wss://a/" {
		t.Errorf("endpoints = %q", cfg.Interactive.Endpoints)
	}
	if len(cfg.Chat.JoinOnStart) != 2 || !cfg.Interactive.SweepStale || cfg.Chat.MessageWindow != time.Minute {
		t.Errorf("chat = %+v", cfg.Chat)
	}
}

func TestFromLookup_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":                  {"MIXPLAY_CHAT_HISTORY_MAX": "lots"},
		"bad bool":                 {"MIXPLAY_CHAT_REJOIN": "maybe"},
		"bad duration":             {"MIXPLAY_TICK_INTERVAL": "soon"},
		"interactive without auth": {"MIXPLAY_PROJECT_VERSION_ID": "1"},
		"login without secret":     {"MIXPLAY_ADMIN_PASSWORD_HASH": "$2a$10$x"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromLookup(lookupFrom(env)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
