package config

import (
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a set of files and invokes the callback after changes,
// debounced so editors that write in bursts trigger one reload.
type Watcher struct {
	callback func()
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher starts watching the given files. Paths that are empty strings
// are skipped.
func NewWatcher(callback func(), paths ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	added := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, err
		}
		added++
	}
	if added == 0 {
		w.Close()
		return nil, nil
	}

	cw := &Watcher{
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.mu.Lock()
					defer cw.mu.Unlock()
					cw.callback()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

// Stop stops the watcher. Safe to call multiple times and on a nil watcher.
func (cw *Watcher) Stop() error {
	if cw == nil {
		return nil
	}
	cw.stopOnce.Do(func() { close(cw.stopCh) })
	return cw.watcher.Close()
}
