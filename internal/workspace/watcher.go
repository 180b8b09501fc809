package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher tracks filesystem changes under a working directory so callers
// know which index rows may be stale. It only records paths; refreshing
// the index stays a single-threaded caller decision.
type Watcher struct {
	dir     *Dir
	watcher *fsnotify.Watcher
	special func(path string) bool
	logger  *zap.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
	done  chan struct{}
}

func NewWatcher(dir *Dir, special func(string) bool, logger *zap.Logger) (*Watcher, error) {
	if special == nil {
		special = func(string) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:     dir,
		watcher: fsw,
		special: special,
		logger:  logger,
		dirty:   make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	if err := w.watchRecursive(dir.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.run()
	return w, nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.relPath(path)
		if rel != "" && w.special(rel) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) relPath(abs string) string {
	rel, err := filepath.Rel(w.dir.Root(), abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			rel := w.relPath(event.Name)
			if rel == "" || w.special(rel) || hasSpecialComponent(rel, w.special) {
				continue
			}
			w.mu.Lock()
			w.dirty[rel] = struct{}{}
			w.mu.Unlock()
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					if err := w.watchRecursive(event.Name); err != nil {
						w.logger.Warn("watching new directory", zap.String("path", rel), zap.Error(err))
					}
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func hasSpecialComponent(rel string, special func(string) bool) bool {
	for _, part := range strings.Split(rel, "/") {
		if special(part) {
			return true
		}
	}
	return false
}

// DirtyPaths drains and returns the set of changed paths seen since the
// last call.
func (w *Watcher) DirtyPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.dirty))
	for p := range w.dirty {
		paths = append(paths, p)
	}
	w.dirty = make(map[string]struct{})
	return paths
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
