// Package watch guards a run against the archive changing underneath
// it. The index pins one archive version; if the file vanishes mid-run
// the coordinator cannot make progress and the run is cancelled, while
// an in-place modification only warns (the mapping still reflects the
// bytes at open time, and the index will be detected stale on the next
// run).
package watch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"mailsift/internal/logging"
)

var ErrArchiveVanished = errors.New("archive vanished mid-run")

// Guard watches one archive file until Close is called.
type Guard struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Start begins watching path. cancel is invoked with ErrArchiveVanished
// when the file is removed or renamed away.
func Start(path string, cancel context.CancelCauseFunc, logger *slog.Logger) (*Guard, error) {
	logger = logging.Default(logger).With("component", "watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	g := &Guard{watcher: watcher, done: make(chan struct{})}
	go func() {
		defer close(g.done)
		warned := false
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				switch {
				case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
					logger.Error("archive vanished", "path", path, "op", event.Op.String())
					cancel(ErrArchiveVanished)
					return
				case event.Op.Has(fsnotify.Write) && !warned:
					logger.Warn("archive modified mid-run, index will be stale", "path", path)
					warned = true
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watch error", "path", path, "error", err)
			}
		}
	}()
	return g, nil
}

// Close stops watching. Safe to call after the guard already fired.
func (g *Guard) Close() error {
	err := g.watcher.Close()
	<-g.done
	return err
}
