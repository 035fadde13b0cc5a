package guardrail

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the guardrail policy when its file changes and hands a
// freshly compiled engine to the callback. A file edit that fails to load or
// compile keeps the previous engine in effect.
type Watcher struct {
	path    string
	log     *slog.Logger
	onSwap  func(*Engine)
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *Engine
}

// NewWatcher compiles the policy at path and starts watching its directory.
// Watching the directory rather than the file survives editors that replace
// the file on save.
func NewWatcher(path string, log *slog.Logger, onSwap func(*Engine)) (*Watcher, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		log:     log,
		onSwap:  onSwap,
		watcher: fw,
		current: engine,
	}
	return w, nil
}

// Engine returns the currently active engine.
func (w *Watcher) Engine() *Engine {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("guardrail watch", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.log.Error("guardrail reload failed, keeping previous policy", "path", w.path, "error", err)
		return
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		w.log.Error("guardrail reload failed, keeping previous policy", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = engine
	w.mu.Unlock()

	w.log.Info("guardrail policy reloaded", "path", w.path,
		"enforcement_level", engine.EnforcementLevel())
	if w.onSwap != nil {
		w.onSwap(engine)
	}
}
