// Package watch reloads a script when its file changes on disk.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"

	"github.com/chazu/runeheart/engine"
	"github.com/chazu/runeheart/registry"
)

var log = commonlog.GetLogger("runeheart.watch")

// ReloadFunc installs a new version of the script. A returned error is
// logged; the caller keeps its previous script.
type ReloadFunc func(engine.Source) error

// Stats counts watcher activity.
type Stats struct {
	Events   int
	Reloads  int
	Failures int
	LastErr  error
}

// Watcher watches one script file. It watches the file's directory so that
// editors that save by renaming are seen too.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	reload   ReloadFunc
	debounce time.Duration
	pending  time.Time
	stats    Stats

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the file must be quiet before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher for the script at path.
func New(path string, reload ReloadFunc, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		path:     abs,
		reload:   reload,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	log.Infof("watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		log.Errorf("error closing watcher: %s", err)
	}
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("watch error: %s", err)

		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	log.Debugf("%s: %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.pending = time.Now().Add(w.debounce)
	w.mu.Unlock()
}

// flush reloads once the file has been quiet for the debounce period.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	if w.pending.IsZero() || now.Before(w.pending) {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	err := w.reload(engine.Path(w.path))

	w.mu.Lock()
	if err != nil {
		w.stats.Failures++
		w.stats.LastErr = err
	} else {
		w.stats.Reloads++
	}
	w.mu.Unlock()

	if err != nil {
		log.Warningf("reload of %s failed, keeping the previous script: %s", filepath.Base(w.path), registry.Render(err))
		return
	}
	log.Noticef("reloaded %s", filepath.Base(w.path))
}
