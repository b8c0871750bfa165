package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Invalidator drops a cached entry by file name.
type Invalidator interface {
	Invalidate(name string)
}

// Watcher invalidates cached contracts when their files change.
type Watcher struct {
	w      *fsnotify.Watcher
	inv    Invalidator
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// Watch starts watching dir. Every create, write, remove or rename of a
// contract file invalidates it in inv. Stop with Close.
func Watch(dir string, inv Invalidator, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	wt := &Watcher{w: w, inv: inv, logger: logger, done: make(chan struct{})}
	go wt.run()
	logger.Debug("watching contract dir", "dir", dir)
	return wt, nil
}

func (wt *Watcher) run() {
	defer close(wt.done)
	for {
		select {
		case ev, ok := <-wt.w.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ContractSuffix) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				wt.inv.Invalidate(name)
			}
		case err, ok := <-wt.w.Errors:
			if !ok {
				return
			}
			wt.logger.Debug("fsnotify error", "error", err)
		}
	}
}

// Close stops the watcher and waits for it to exit.
func (wt *Watcher) Close() error {
	var err error
	wt.once.Do(func() {
		err = wt.w.Close()
		<-wt.done
	})
	return err
}
