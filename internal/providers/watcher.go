package providers

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
)

// TableWatcher reloads the capability table when its YAML file changes.
type TableWatcher struct {
	watcher      *fsnotify.Watcher
	path         string
	debounceMs   int
	onReload     func(Table)
	stopCh       chan struct{}
	mu           sync.Mutex
	pendingTimer *time.Timer
}

// WatchTable watches path and calls onReload with each successfully
// parsed table. Parse failures keep the previous table in effect.
func WatchTable(path string, onReload func(Table)) (*TableWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace files via rename, which drops
	// a watch on the file itself.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &TableWatcher{
		watcher:    fsWatcher,
		path:       path,
		debounceMs: 500,
		onReload:   onReload,
		stopCh:     make(chan struct{}),
	}
	go w.run()
	L_debug("providers: watching capability table", "path", path)
	return w, nil
}

func (w *TableWatcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.triggerReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("providers: table watcher error", "error", err)
		}
	}
}

// triggerReload schedules a reload with debouncing.
func (w *TableWatcher) triggerReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}

	w.pendingTimer = time.AfterFunc(time.Duration(w.debounceMs)*time.Millisecond, func() {
		w.mu.Lock()
		w.pendingTimer = nil
		w.mu.Unlock()

		table, err := LoadTable(w.path)
		if err != nil {
			L_warn("providers: table reload failed, keeping previous", "path", w.path, "error", err)
			return
		}
		L_info("providers: capability table reloaded", "path", w.path)
		if w.onReload != nil {
			w.onReload(table)
		}
	})
}

// Stop stops watching for changes.
func (w *TableWatcher) Stop() error {
	close(w.stopCh)

	w.mu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}
