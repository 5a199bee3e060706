package registry

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relaygate/porter/internal/config"
	"github.com/relaygate/porter/internal/events"
	"github.com/relaygate/porter/internal/pidtrack"
)

// reloadDebounce matches the spec's hot-reload debounce window; the
// teacher's own watchConfig uses 150ms, but config writers (atomic
// rename-based editors in particular) settle faster than that in practice.
const reloadDebounce = 100 * time.Millisecond

// Manager owns a swappable Registry and, when given a config path, watches
// that file for changes and rebuilds the Registry in place on every change.
// Gateway code holds a Manager, never a bare *Registry, so it always sees
// the current registry across a reload.
type Manager struct {
	mu         sync.RWMutex
	current    *Registry
	bus        *events.Bus
	tracker    *pidtrack.PIDTracker
	configPath string
}

// NewManager builds the initial Registry from cfg and returns a Manager
// wrapping it. configPath is optional: pass "" to disable hot-reload
// (e.g. when config was supplied some other way than a file).
func NewManager(ctx context.Context, bus *events.Bus, tracker *pidtrack.PIDTracker, cfg *config.Config, configPath string) (*Manager, error) {
	r, err := New(ctx, bus, tracker, cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{current: r, bus: bus, tracker: tracker, configPath: configPath}, nil
}

// Registry returns the currently active Registry. Callers should not hold
// onto the result across a reload boundary; call Registry() again per
// request instead.
func (m *Manager) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Shutdown stops the currently active registry's backends. It does not
// stop the watcher goroutine; cancel the ctx passed to Watch for that.
func (m *Manager) Shutdown() {
	m.Registry().Shutdown()
}

// Watch starts the config-file watcher goroutine. It watches the parent
// directory (not the file itself) so atomic rename-based writes are seen,
// the same technique the teacher's watchConfig uses. A no-op if
// configPath was empty. Returns once the watcher is established so
// callers can log/fail fast on a bad config directory; the watch loop
// itself keeps running in the background until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if m.configPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.configPath)
	filename := filepath.Base(m.configPath)

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	log.Printf("registry: watching config file %s", m.configPath)

	go m.watchLoop(ctx, watcher, filename)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, filename string) {
	defer watcher.Close()

	var debounceMu sync.Mutex
	var debounceTimer *time.Timer

	triggerReload := func() {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(reloadDebounce, func() {
			m.reload(ctx)
		})
	}

	for {
		select {
		case <-ctx.Done():
			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceMu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				log.Printf("registry: config file event: %s (%s)", event.Name, event.Op)
				triggerReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("registry: config watcher error: %v", err)
		}
	}
}

// reload loads and validates the config file, spawns a fresh Registry from
// it, and swaps it in, shutting down the old one. A failure at any step
// leaves the current Registry untouched and publishes ReloadFailedEvent.
func (m *Manager) reload(ctx context.Context) {
	log.Printf("registry: config file changed, reloading")

	cfg, err := config.Load(m.configPath)
	if err != nil {
		log.Printf("registry: reload: failed to load config: %v", err)
		m.bus.Publish(events.NewReloadFailedEvent(err))
		return
	}

	next, err := New(ctx, m.bus, m.tracker, cfg)
	if err != nil {
		log.Printf("registry: reload: failed to build registry: %v", err)
		m.bus.Publish(events.NewReloadFailedEvent(err))
		return
	}

	m.mu.Lock()
	old := m.current
	m.current = next
	m.mu.Unlock()

	old.Shutdown()

	count := next.ServerCount()
	log.Printf("registry: reload complete, %d backends active", count)
	m.bus.Publish(events.NewRegistryReloadedEvent(count))
}
