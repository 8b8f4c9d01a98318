package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 1500 * time.Millisecond

// Watcher reloads a settings file through a typed loader when it changes
// on disk and passes each fresh value to the registered handlers.
//
// The parent directory is watched, so a file that does not exist yet, or
// one an editor replaces by rename, is still picked up. A rewrite with
// identical bytes does not reload.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)
	logger   *slog.Logger

	mu       sync.RWMutex
	subs     []subscriber[T]
	nextID   int
	current  T
	loaded   bool
	lastRead []byte

	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long the file must stay quiet before it is
// reloaded. The default is 1.5s.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) { w.debounce = d }
}

// WithErrorHandler is called with every loader error. Errors are logged
// either way.
func WithErrorHandler[T any](fn func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) { w.onError = fn }
}

// NewConfigWatcher creates a watcher for path. Nothing is read until Load
// or the first change after Start.
func NewConfigWatcher[T any](
	path string,
	loader func(path string) (T, error),
	logger *slog.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		loader:   loader,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload adds fn to the handlers and returns a function removing it.
func (w *Watcher[T]) OnReload(fn func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs = append(w.subs, subscriber[T]{id: id, fn: fn})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, s := range w.subs {
			if s.id == id {
				w.subs = append(w.subs[:i:i], w.subs[i+1:]...)
				return
			}
		}
	}
}

// Current returns the last value loaded without error.
func (w *Watcher[T]) Current() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.loaded
}

// Load runs the loader once and keeps the result. Handlers are not called.
func (w *Watcher[T]) Load() (T, error) {
	raw, _ := os.ReadFile(w.path)
	v, err := w.loader(w.path)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastRead = raw
	if err != nil {
		return v, err
	}
	w.current, w.loaded = v, true
	return v, nil
}

// Start watches the parent directory of the file.
func (w *Watcher[T]) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.logger.Info("Settings watcher started", "path", w.path, "debounce", w.debounce)
	go w.loop()
	return nil
}

// Stop ends the watch loop and waits for it. No handler runs afterwards.
func (w *Watcher[T]) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		if w.fsw == nil {
			return
		}
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

func (w *Watcher[T]) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher[T]) loop() {
	defer close(w.done)

	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-w.stop:
			w.logger.Debug("Settings watcher stopped")
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				w.logger.Debug("Settings file changed", "op", ev.Op.String())
				quiet.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Settings watcher error", "error", err)
		case <-quiet.C:
			w.reload()
		}
	}
}

func (w *Watcher[T]) unchanged() bool {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRead != nil && bytes.Equal(raw, w.lastRead)
}

// reload hands every handler the same freshly loaded value.
func (w *Watcher[T]) reload() {
	select {
	case <-w.stop:
		return
	default:
	}
	if w.unchanged() {
		w.logger.Debug("Settings file rewritten without changes", "path", w.path)
		return
	}

	v, err := w.Load()
	if err != nil {
		w.logger.Warn("Failed to load settings", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.logger.Info("Settings reloaded", "path", w.path)

	w.mu.RLock()
	subs := make([]subscriber[T], len(w.subs))
	copy(subs, w.subs)
	w.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}
