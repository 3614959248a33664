package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postwatch/internal/config"
	"postwatch/internal/notifier"
	"postwatch/internal/runtime/supervisor"
	"postwatch/internal/watcher"
)

type botAPI struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		http.NotFound(w, r)
		return
	}
	var p map[string]any
	_ = json.NewDecoder(r.Body).Decode(&p)
	text, _ := p["text"].(string)
	chat, _ := p["chat_id"].(string)
	b.mu.Lock()
	b.texts = append(b.texts, text)
	b.chats = append(b.chats, chat)
	n := len(b.texts)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok": true,
		"result": map[string]any{
			"message_id": n,
			"date":       time.Now().Unix(),
			"chat":       map[string]any{"id": -1001, "type": "channel"},
			"text":       text,
		},
	})
}

func (b *botAPI) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

// systemdSocket stands in for systemd's NOTIFY_SOCKET.
type systemdSocket struct {
	mu     sync.Mutex
	states []string
}

func listenSystemd(t *testing.T) *systemdSocket {
	t.Helper()
	dir, err := os.MkdirTemp("", "pw")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)

	s := &systemdSocket{}
	go func() {
		buf := make([]byte, 4096)
		for {
			n, _, err := conn.ReadFromUnix(buf)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.states = append(s.states, string(buf[:n]))
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *systemdSocket) seen(prefix, contains string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if strings.HasPrefix(st, prefix) && strings.Contains(st, contains) {
			return true
		}
	}
	return false
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvTelegramToken, config.EnvTelegramChat, config.EnvSourceURL, config.EnvStatePath} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, t.TempDir(), "source:\n  kind: http\n")

	_, err := NewApp(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "telegram.token is required")
}

func TestNewAppClosesLoggingWhenStateStoreFails(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	path := writeConfig(t, dir, fmt.Sprintf(`
telegram:
  token: "123:abc"
  chat_id: "@postwatch"
source:
  kind: http
  url: "https://example.com/page"
state:
  driver: sqlite
  path: %q
logging:
  level: error
  telegram:
    enabled: true
    min_level: error
`, filepath.Join(blocker, "state.db")))

	before := runtime.NumGoroutine()
	_, err := NewApp(path)
	require.Error(t, err)

	// The Telegram log sink runs a worker goroutine until its service is closed.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppNotifiesAndPersistsFirstPost(t *testing.T) {
	clearEnv(t)

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
<div data-ad-preview="message"><span>Hello</span> <span>world</span></div>
</body></html>`))
	}))
	defer page.Close()

	api := &botAPI{}
	bot := httptest.NewServer(api)
	defer bot.Close()

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	path := writeConfig(t, dir, fmt.Sprintf(`
telegram:
  token: "123:abc"
  chat_id: "@postwatch"
  api_url: %q
  timeout: 2s
  rate_per_sec: 100
source:
  kind: http
  url: %q
  timeout: 2s
  settle: 0s
state:
  driver: file
  path: %q
loop:
  schedule: 1h
  retry_delay: 10ms
  state_retry_delay: 10ms
logging:
  level: error
`, bot.URL, page.URL, statePath))

	sd := listenSystemd(t)
	a, err := NewApp(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		return a.Status().Notifications == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return sd.seen("STATUS=last check ", string(watcher.DecisionNotified))
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, sd.seen("READY=1", ""))

	health := a.health()
	assert.Contains(t, health, "watcher")
	deliveries, ok := health["deliveries"].([]notifier.HistoryItem)
	require.True(t, ok)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "@postwatch", deliveries[0].Chat)
	assert.Equal(t, 1, deliveries[0].MessageID)
	workers, ok := health["workers"].([]supervisor.Stats)
	require.True(t, ok)
	names := make([]string, 0, len(workers))
	for _, w := range workers {
		names = append(names, w.Name)
	}
	assert.Contains(t, names, "watcher")
	assert.Contains(t, names, "config.watch")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
	require.NoError(t, a.Err())

	texts := api.sent()
	require.Len(t, texts, 1)
	assert.Equal(t, "New post detected: \n \nHelloworld \n \n"+page.URL, texts[0])
	assert.Equal(t, []string{"@postwatch"}, api.chats)

	b, err := os.ReadFile(statePath)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("Helloworld"))
	assert.Contains(t, string(b), hex.EncodeToString(sum[:]))
	assert.Equal(t, watcher.DecisionNotified, a.Status().LastDecision)
}
