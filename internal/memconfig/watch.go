package memconfig

import (
	"github.com/fsnotify/fsnotify"

	"github.com/vectorlane/memcore/internal/memlog"
)

// Watch pushes a freshly loaded and revalidated Config every time path is
// written. The allocator hot path never touches this: callers that want
// live backend re-selection read from the returned channel on their own
// schedule and swap a locally held Allocator themselves; memory.Init
// returns ErrAlreadyInitialized once it has succeeded.
func Watch(path string) (<-chan Config, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	out := make(chan Config, 1)
	go watchLoop(w, path, out)
	return out, nil
}

func watchLoop(w *fsnotify.Watcher, path string, out chan<- Config) {
	defer w.Close()
	defer close(out)

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				memlog.Warn("config reload failed", "path", path, "error", err)
				continue
			}
			select {
			case out <- cfg:
			default:
				// Drop a stale pending reload in favor of the newest one.
				select {
				case <-out:
				default:
				}
				out <- cfg
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			memlog.Warn("config watcher error", "path", path, "error", err)
		}
	}
}
