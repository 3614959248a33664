package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postwatch/internal/config"
	"postwatch/internal/schedule"
)

func TestMapDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Telegram.ChatID = " -1001 "

	sc, err := mapStorageConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, "./latest_post_hash.json", sc.Path)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	src, err := mapSourceConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, src.Timeout)
	assert.Equal(t, 10*time.Second, src.Settle)
	assert.True(t, src.Browser.Headless)

	wc, err := mapWatcherConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, schedule.Interval, wc.Schedule.Kind)
	assert.Equal(t, 5*time.Minute, wc.Schedule.Every)
	assert.Equal(t, 30*time.Second, wc.Fetch.Delay)
	assert.Equal(t, 0, wc.Fetch.MaxAttempts)
	assert.Equal(t, 3, wc.Save.MaxAttempts)

	nc, err := mapNotifierConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "-1001", nc.Target.Chat)
	assert.Equal(t, 10*time.Second, nc.Timeout)

	lc := mapLogConfig(&cfg)
	assert.Equal(t, "-1001", lc.Telegram.Target.Chat, "log chat falls back to telegram.chat_id")
}

func TestTelegramRequestsEndWithTheirDelivery(t *testing.T) {
	for _, raw := range []string{"", "3s", "45s"} {
		cfg := config.Default()
		cfg.Telegram.Timeout = raw

		tc, err := mapTelegramConfig(&cfg)
		require.NoError(t, err)
		nc, err := mapNotifierConfig(&cfg)
		require.NoError(t, err)
		assert.LessOrEqual(t, tc.HTTPTimeout, nc.Timeout, raw)
		assert.Positive(t, tc.HTTPTimeout, raw)
	}
}

func TestMapLogConfigPrefersLogChat(t *testing.T) {
	cfg := config.Default()
	cfg.Telegram.ChatID = "@news"
	cfg.Logging.Telegram.ChatID = "-42"
	cfg.Logging.Telegram.ThreadID = 7

	lc := mapLogConfig(&cfg)
	assert.Equal(t, "-42", lc.Telegram.Target.Chat)
	assert.Equal(t, 7, lc.Telegram.Target.ThreadID)
}

func TestMapWatcherConfigCronInTimezone(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.Schedule = "*/10 * * * *"
	cfg.Loop.Timezone = "UTC"

	wc, err := mapWatcherConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, schedule.Cron, wc.Schedule.Kind)

	from := time.Date(2024, 1, 1, 12, 3, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC), wc.Schedule.Next(from).UTC())
}

func TestMapRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.Timezone = "Nowhere/Void"
	_, err := mapWatcherConfig(&cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Source.Timeout = "soon"
	_, err = mapSourceConfig(&cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.State.BusyTimeout = "-"
	_, err = mapStorageConfig(&cfg)
	assert.Error(t, err)
}

func TestChangedAndRestartSections(t *testing.T) {
	prev := config.Default()
	next := config.Default()
	assert.Empty(t, changedSections(&prev, &next))

	next.Logging.Level = "debug"
	next.Telegram.ChatID = "@other"
	assert.Equal(t, []string{"telegram", "logging"}, changedSections(&prev, &next))
	assert.Empty(t, restartSections(&prev, &next))

	next.Telegram.Token = "new"
	next.Loop.Schedule = "10m"
	assert.Equal(t, []string{"telegram.token", "loop"}, restartSections(&prev, &next))
}
