package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reelcast/agent/internal/logging"
)

// debounce window for bursts of filesystem events, e.g. the write+rename
// pair Save produces.
const watchDebounce = 200 * time.Millisecond

// Watch emits a signal whenever the recordings folder changes, until ctx is
// done. Events for the index and in-progress files are ignored.
func (l *Library) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", l.dir, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		defer close(out)
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := ev.Name
				if strings.HasSuffix(name, indexName) || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					fire = timer.C
				} else {
					timer.Reset(watchDebounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", logging.KeyError, err)
			case <-fire:
				timer = nil
				fire = nil
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
