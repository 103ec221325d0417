package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sensai/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
tier2:
  small_model: phi
quota:
  daily_token_limit: 100000
`

const watcherEditedYAML = `
server:
  log_level: debug
tier2:
  small_model: phi
quota:
  daily_token_limit: 50000
`

const watcherBrokenYAML = `
server:
  log_level: bananas
`

// reloadRecorder collects onChange invocations and signals the first one.
type reloadRecorder struct {
	mu       sync.Mutex
	old, new *config.Config
	calls    int
	fired    chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{fired: make(chan struct{}, 1)}
}

func (r *reloadRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.old, r.new = old, new
	r.calls++
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *reloadRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// startWatcher writes content to a temp config file and starts a fast-polling
// watcher on it, returning the watcher and the file path.
func startWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, content)

	w, err := config.NewWatcher(path, onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherBaseYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Quota.DailyTokenLimit != 100000 {
		t.Errorf("daily_token_limit = %d, want 100000", cfg.Quota.DailyTokenLimit)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("NewWatcher on missing file: err = nil, want error")
	}
}

func TestWatcher_EditFiresCallback(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherBaseYAML, rec.onChange)

	// Let the first poll observe the base file before editing.
	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, watcherEditedYAML)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not invoked within timeout")
	}

	rec.mu.Lock()
	old, updated := rec.old, rec.new
	rec.mu.Unlock()

	if old == nil || updated == nil {
		t.Fatal("onChange received nil configs")
	}
	if old.Quota.DailyTokenLimit != 100000 {
		t.Errorf("old daily_token_limit = %d, want 100000", old.Quota.DailyTokenLimit)
	}
	if updated.Quota.DailyTokenLimit != 50000 {
		t.Errorf("new daily_token_limit = %d, want 50000", updated.Quota.DailyTokenLimit)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want %q", got, config.LogDebug)
	}
}

func TestWatcher_InvalidEditKeepsOldConfig(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherBaseYAML, rec.onChange)

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, watcherBrokenYAML)
	time.Sleep(300 * time.Millisecond)

	if calls := rec.callCount(); calls != 0 {
		t.Errorf("onChange fired %d times for an invalid edit, want 0", calls)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want previous value %q", got, config.LogInfo)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	_, path := startWatcher(t, watcherBaseYAML, rec.onChange)

	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("touch file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if calls := rec.callCount(); calls != 0 {
		t.Errorf("onChange fired %d times for a touch-only change, want 0", calls)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherBaseYAML, nil)

	w.Stop()
	w.Stop()
	w.Stop()
}
