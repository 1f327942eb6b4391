package collection

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies a caller-supplied hook when a shard's on-disk snapshot
// changes out of band, e.g. an operator dropping in a snapshot restored from
// backup while the collection process keeps running. It does not reload
// anything itself: applying the change (typically Close + Open) is the
// caller's decision, made from the hook.
type Watcher struct {
	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

// WatchReload starts watching every shard's snapshot directory for file
// changes and calls onChange(shardIndex) at most once per 500ms burst of
// activity on that shard. The returned Watcher must be closed with Stop.
func (c *Collection) WatchReload(onChange func(shardIndex int)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("collection: create watcher: %w", err)
	}

	dirToShard := make(map[string]int, len(c.shards))
	for i := range c.shards {
		dir := filepath.Join(c.dir, "shards", strconv.Itoa(i), "snapshot")
		dirToShard[dir] = i
		if err := fsw.Add(dir); err != nil {
			// The snapshot directory may not exist yet if the shard has never
			// been snapshotted; that's fine, there is nothing to watch yet.
			continue
		}
	}

	w := &Watcher{fsw: fsw, stop: make(chan struct{})}

	var mu sync.Mutex
	timers := make(map[int]*time.Timer)

	go func() {
		for {
			select {
			case <-w.stop:
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				idx, ok := dirToShard[filepath.Dir(ev.Name)]
				if !ok {
					continue
				}
				mu.Lock()
				if t, ok := timers[idx]; ok {
					t.Stop()
				}
				timers[idx] = time.AfterFunc(500*time.Millisecond, func() { onChange(idx) })
				mu.Unlock()
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w, nil
}

// Stop stops the watcher and releases its underlying file descriptors.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
}
