// Package watcher detects recordings that appear in a directory and reports
// each one once it has stopped changing.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultSettle is how long a file must go without writes before it is reported.
const DefaultSettle = 500 * time.Millisecond

// Watcher monitors a directory and calls onReady for every new or rewritten
// file whose extension matches. Writers keep a file open while recording, so a
// file is reported only after it settles.
type Watcher struct {
	dir     string
	exts    []string
	onReady func(path string)
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
	settle  time.Duration
	pending map[string]*time.Timer
}

// New creates a Watcher for dir. exts are matched case-insensitively and
// include the dot (".xdf"); no exts matches every file.
func New(dir string, exts []string, onReady func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	lower := make([]string, 0, len(exts))
	for _, e := range exts {
		lower = append(lower, strings.ToLower(e))
	}

	return &Watcher{
		dir:     filepath.Clean(dir),
		exts:    lower,
		onReady: onReady,
		watcher: fsw,
		ctx:     ctx,
		cancel:  cancel,
		settle:  DefaultSettle,
		pending: make(map[string]*time.Timer),
	}, nil
}

// SetSettle overrides the settle window.
func (w *Watcher) SetSettle(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d > 0 {
		w.settle = d
	}
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if _, err := os.Stat(w.dir); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go w.watchLoop()
	log.Info().Str("dir", w.dir).Strs("exts", w.exts).Msg("Watching for recordings")
	return nil
}

// Stop stops the watcher. Pending files are not reported.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	return w.watcher.Close()
}

// matches reports whether path has one of the watched extensions.
func (w *Watcher) matches(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.exts {
		if ext == e {
			return true
		}
	}
	return false
}

// watchLoop is the main event loop.
func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			path := filepath.Clean(event.Name)
			if !w.matches(path) {
				continue
			}

			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.schedule(path)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.cancelPending(path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule (re)arms the settle timer of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
		log.Debug().Str("path", path).Msg("Recording removed before it settled")
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return
	}
	log.Info().Str("path", path).Msg("Recording ready")
	if w.onReady != nil {
		w.onReady(path)
	}
}
