package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloadable is implemented by components that can pick up a new config at runtime.
type Reloadable interface {
	// OnConfigReload applies the new config. An error leaves the component on
	// its previous config; the reloader logs it and moves on.
	OnConfigReload(newCfg *Config) error
}

// Reloader re-reads the config file when it changes and notifies subscribers.
type Reloader struct {
	cli      *CLI
	path     string
	debounce time.Duration
	logger   *slog.Logger
	current  atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []Reloadable
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	stopped     chan struct{}
}

// NewReloader returns a Reloader for the file cfg was loaded from. CLI
// overrides are re-applied on every reload.
func NewReloader(cfg *Config, cli *CLI, logger *slog.Logger) *Reloader {
	r := &Reloader{
		cli:      cli,
		path:     cfg.filePath,
		debounce: time.Duration(cfg.Reload.DebounceMS) * time.Millisecond,
		logger:   logger.With("component", "config_reloader"),
	}
	r.current.Store(cfg)
	return r
}

// Register adds a subscriber. Must be called before Start.
func (r *Reloader) Register(sub Reloadable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, sub)
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// Start watches the config file until ctx is canceled or Stop is called.
// The parent directory is watched so editors that replace the file by rename
// are picked up too.
func (r *Reloader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir for %q: %w", r.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.watcher = watcher
	r.cancel = cancel
	r.stopped = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("config file watcher started", "path", r.path, "debounce", r.debounce)
	go r.run(ctx)
	return nil
}

// Stop shuts the watcher down and waits for it to exit.
func (r *Reloader) Stop() {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Reload reads and validates the config file and notifies subscribers. An
// invalid file leaves the current config in place.
func (r *Reloader) Reload() error {
	cfg, err := readFile(r.path)
	if err != nil {
		r.logger.Error("config reload failed, keeping current", "err", err)
		return err
	}
	cfg.applyCLI(r.cli)
	if err := cfg.validate(); err != nil {
		r.logger.Error("config reload failed, keeping current", "err", err)
		return fmt.Errorf("config: validate: %w", err)
	}
	cfg.setDefaults()
	r.current.Store(cfg)

	r.mu.Lock()
	subs := append([]Reloadable(nil), r.subscribers...)
	r.mu.Unlock()

	for _, sub := range subs {
		if err := sub.OnConfigReload(cfg); err != nil {
			r.logger.Error("subscriber reload failed",
				"err", err,
				"subscriber", fmt.Sprintf("%T", sub),
			)
		}
	}

	r.logger.Info("config reloaded", "path", r.path)
	return nil
}

func (r *Reloader) run(ctx context.Context) {
	defer close(r.stopped)
	defer func() { _ = r.watcher.Close() }()

	target := filepath.Clean(r.path)

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(r.debounce)
			} else {
				debounce.Reset(r.debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			_ = r.Reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("config watcher error", "err", err)
		}
	}
}
