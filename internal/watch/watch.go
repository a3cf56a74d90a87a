// Package watch implements the -watch supplement: re-running the tracer
// every time the traced source file is saved, using fsnotify with a
// debounce timer to coalesce a burst of edit events, narrowed
// to a single tracked file (a directory watch, or ignore-pattern
// matching across many paths, has no purpose for one source file per
// invocation).
package watch

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is the error value for a closed FileWatcher. Watch does not
// return it: Watch returns nil once Close has been called.
var ErrClosed = errors.New("watch: watcher is closed")

// DefaultDebounce coalesces the burst of write+chmod events most
// editors emit for a single save into one re-trace.
const DefaultDebounce = 100 * time.Millisecond

// FileWatcher watches one file and invokes a callback, debounced, each
// time it changes.
type FileWatcher struct {
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// New creates a FileWatcher for path. Callers must call Watch to start
// receiving change notifications and Close when done.
func New(path string, debounce time.Duration) (*FileWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	// fsnotify on most platforms only reliably reports events on the
	// containing directory once an editor replaces the file via
	// rename-into-place, so the directory is what gets watched; events
	// are filtered back down to the one path of interest.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &FileWatcher{
		fsw:      fsw,
		path:     abs,
		debounce: debounce,
		closeCh:  make(chan struct{}),
	}, nil
}

// Watch blocks, invoking onChange each time the watched file is
// written, until Close is called or the fsnotify watcher errors fatally.
// onErr, if non-nil, receives non-fatal fsnotify errors.
func (w *FileWatcher) Watch(onChange func(), onErr func(error)) error {
	var timer *time.Timer
	var timerMu sync.Mutex

	fire := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, onChange)
	}

	for {
		select {
		case <-w.closeCh:
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || abs != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				fire()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if onErr != nil {
				onErr(err)
			}
		}
	}
}

// Close stops the watcher. Safe to call once; further calls are no-ops.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.closeCh)
	return w.fsw.Close()
}
