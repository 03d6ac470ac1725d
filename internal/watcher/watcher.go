// Package watcher watches bookmark files with fsnotify and reports debounced changes.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Watcher watches individual files and calls onChange once a file has been
// quiet for the debounce period. Parent directories are watched rather than the
// files themselves, so files replaced by rename (as browsers do when saving
// bookmarks) keep being tracked.
type Watcher struct {
	files       map[string]struct{}
	onChange    func(path string)
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	dirRefs     map[string]int // watched dir -> number of files in it
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for files. onChange is called with the cleaned
// absolute path of a file after it was created or written.
func NewWatcher(files []string, onChange func(path string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		files:       make(map[string]struct{}),
		onChange:    onChange,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		dirRefs:     make(map[string]int),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			w.files[filepath.Clean(abs)] = struct{}{}
		}
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
// The directory of every file must exist.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	for file := range w.files {
		if err := w.watchDirLocked(filepath.Dir(file)); err != nil {
			_ = fsw.Close()
			w.watcher = nil
			w.started = false
			w.dirRefs = make(map[string]int)
			w.mu.Unlock()
			return err
		}
	}
	w.logger.Debug("watcher starting", zap.Strings("files", w.filesLocked()))
	w.mu.Unlock()
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.tracked(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.debounceChange(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// The file is about to be replaced; the Create that follows reschedules.
		w.cancelDebounce(path)
	}
}

func (w *Watcher) tracked(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[path]
	return ok
}

func (w *Watcher) debounceChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	t := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if _, err := os.Stat(path); err != nil {
			w.logger.Debug("watcher skipping missing file", zap.String("path", path))
			return
		}
		w.logger.Debug("watcher file changed (debounced)", zap.String("path", path))
		if w.onChange != nil {
			w.onChange(path)
		}
	})
	w.debounceMap[path] = t
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// AddFile starts watching path.
func (w *Watcher) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; ok {
		return nil
	}
	if w.watcher != nil {
		if err := w.watchDirLocked(filepath.Dir(abs)); err != nil {
			return err
		}
	}
	w.files[abs] = struct{}{}
	w.logger.Debug("watcher file added", zap.String("path", abs))
	return nil
}

// RemoveFile stops watching path and drops any pending change for it.
func (w *Watcher) RemoveFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return nil
	}
	delete(w.files, abs)
	if t, ok := w.debounceMap[abs]; ok {
		t.Stop()
		delete(w.debounceMap, abs)
	}
	if w.watcher != nil {
		dir := filepath.Dir(abs)
		w.dirRefs[dir]--
		if w.dirRefs[dir] <= 0 {
			delete(w.dirRefs, dir)
			_ = w.watcher.Remove(dir)
		}
	}
	w.logger.Debug("watcher file removed", zap.String("path", abs))
	return nil
}

func (w *Watcher) watchDirLocked(dir string) error {
	if w.dirRefs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirRefs[dir]++
	return nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filesLocked()
}

func (w *Watcher) filesLocked() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Stop stops the watcher and releases resources. Pending changes are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.dirRefs = make(map[string]int)
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
