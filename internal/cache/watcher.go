package cache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ternarybob/serena/internal/logger"
)

// Watcher invalidates cache entries for files modified outside this
// service's own write path (a human editing in their IDE
// mid-session). The Code Editor invalidates synchronously for its own
// writes; the watcher covers everyone else.
type Watcher struct {
	cache    *Cache
	root     string
	skipDirs map[string]bool
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for the project root. skipDirs names
// directory basenames that are never watched (vendor trees, VCS
// metadata).
func NewWatcher(c *Cache, root string, skipDirs []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = true
	}

	return &Watcher{
		cache:    c,
		root:     root,
		skipDirs: skip,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins processing events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirectories(); err != nil {
		return err
	}

	go w.processEvents()
	return nil
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) addDirectories() error {
	log := logger.GetLogger()

	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != w.root && w.skipDirs[info.Name()] {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			// Some directories might not be accessible; watching the
			// rest is still worthwhile.
			log.Warn().Err(err).Str("path", path).Msg("cannot watch directory")
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	log := logger.GetLogger()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.skipDirs[filepath.Base(event.Name)] {
						_ = w.watcher.Add(event.Name)
					}
					continue
				}
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			if n := w.cache.InvalidateFile(rel); n > 0 {
				log.Debug().Str("file", rel).Int("invalidated", n).Msg("external change invalidated cache entries")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("file watcher error")
		}
	}
}
