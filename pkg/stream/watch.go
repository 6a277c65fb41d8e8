package stream

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	vos "github.com/edgevid/videostream/pkg/os"
)

// waitForPath waits up to d for the socket file to appear, watching
// its directory instead of sleep-polling. Falls back to a plain sleep
// when a watcher cannot be created (e.g. fd exhaustion).
func waitForPath(path string, d time.Duration) {
	if d <= 0 || vos.Exists(path) {
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		time.Sleep(d)
		return
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(path)); err != nil {
		time.Sleep(d)
		return
	}
	// The socket may have appeared between the Exists check and Add.
	if vos.Exists(path) {
		return
	}
	deadline := time.After(d)
	for {
		select {
		case ev := <-w.Events:
			if ev.Op&fsnotify.Create != 0 && ev.Name == path {
				return
			}
		case <-w.Errors:
			time.Sleep(d)
			return
		case <-deadline:
			return
		}
	}
}
