package config

import (
	"os"
	"strings"
)

// Environment variables that override the file. The first three are the
// names the legacy scraper used.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
	EnvSourceURL     = "FACEBOOK_PAGE_URL"
	EnvStatePath     = "POSTWATCH_STATE_PATH"
)

// ApplyEnv overrides cfg with non-empty variables from getenv
// (os.Getenv when nil).
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Telegram.ChatID, EnvTelegramChat)
	set(&cfg.Source.URL, EnvSourceURL)
	set(&cfg.State.Path, EnvStatePath)
}
