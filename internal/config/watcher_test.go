package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hikaru-dev/koemi/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
  auth_token: secret
providers:
  agent:
    name: openai
    model: gpt-4o
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/test"
`

// changeRecorder collects onChange invocations from a watcher callback.
type changeRecorder struct {
	mu       sync.Mutex
	old, new *config.Config
	calls    int
	fired    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 1)}
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.old, r.new = old, new
	r.calls++
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *changeRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// startWatcher writes the base YAML to a temp file and starts a fast-polling
// watcher on it.
func startWatcher(t *testing.T, rec *changeRecorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherBaseYAML)

	var cb func(old, new *config.Config)
	if rec != nil {
		cb = rec.onChange
	}
	w, err := config.NewWatcher(path, cb, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() is nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := startWatcher(t, rec)

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, `
server:
  log_level: debug
  auth_token: secret
providers:
  agent:
    name: openai
    model: gpt-4o
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/test"
`)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("change callback never fired")
	}

	rec.mu.Lock()
	old, cur := rec.old, rec.new
	rec.mu.Unlock()
	if old == nil || cur == nil {
		t.Fatal("callback received nil configs")
	}
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("callback levels = %q → %q, want info → debug",
			old.Server.LogLevel, cur.Server.LogLevel)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := startWatcher(t, rec)

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, "server:\n  log_level: bananas\n")
	time.Sleep(300 * time.Millisecond)

	if n := rec.callCount(); n != 0 {
		t.Errorf("callback fired %d times for an invalid config", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want old value info", got)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	_, path := startWatcher(t, rec)

	time.Sleep(100 * time.Millisecond)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := rec.callCount(); n != 0 {
		t.Errorf("callback fired %d times for a touch-only change", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)
	w.Stop()
	w.Stop()
}
