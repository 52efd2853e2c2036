package catalog

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"resona/logger"
	"resona/model"
)

// watchSettle coalesces the burst of writes a tag editor produces into one
// rescan per file.
const watchSettle = 500 * time.Millisecond

// Watcher rescans files the moment they change on disk and hands the fresh
// record to its listener, typically the playback controller.
type Watcher struct {
	scanner  *Scanner
	onUpdate func(model.Track)

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher builds a watcher over the scanner's library root. onUpdate is
// called from a background goroutine after each settled rescan.
func NewWatcher(scanner *Scanner, onUpdate func(model.Track)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		scanner:  scanner,
		onUpdate: onUpdate,
		fsw:      fsw,
		done:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}
	if err := w.addRecursive(scanner.root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	logger.Info("watching library for changes", logger.String("root", scanner.root))
	return w, nil
}

// addRecursive registers every subdirectory; fsnotify watches are not
// recursive on their own.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("library watch error", logger.ErrorField(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		// A new directory needs its own watch.
		if err := w.addRecursive(event.Name); err != nil {
			logger.Warn("failed to watch new path", logger.String("path", event.Name), logger.ErrorField(err))
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !IsAudioFile(event.Name) {
		return
	}
	w.schedule(event.Name)
}

// schedule arms (or re-arms) the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(watchSettle)
		return
	}
	w.pending[path] = time.AfterFunc(watchSettle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.rescan(path)
	})
}

func (w *Watcher) rescan(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	track, err := w.scanner.ScanFile(ctx, path)
	if err != nil {
		logger.Warn("rescan failed", logger.String("path", path), logger.ErrorField(err))
		return
	}
	logger.Info("track refreshed from disk", logger.String("track", track.ID), logger.String("path", path))
	if w.onUpdate != nil {
		w.onUpdate(*track)
	}
}

// Close stops watching. Pending settle timers may still fire their rescan.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
