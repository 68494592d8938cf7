package allowlist

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watcher reloads the list when its file changes. The parent directory is
// watched rather than the file itself so atomic rename-into-place edits
// (the common editor and configmap pattern) are observed.
type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

func newWatcher(path string, onChange func()) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		_ = fs.Close()
		return nil, err
	}

	w := &watcher{fs: fs, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case ev, ok := <-fs.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
					onChange()
				}
			case _, ok := <-fs.Errors:
				if !ok {
					return
				}
				// Watch errors are non-fatal; the TTL reload still runs.
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

func (w *watcher) close() error {
	close(w.done)
	return w.fs.Close()
}
