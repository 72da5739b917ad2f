// Package watch triggers processing cycles when the chat document changes on
// disk. It watches the file's parent directory (editors often replace files
// by rename, which breaks a direct file watch) and suppresses the change
// event produced by the pipeline's own commit.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher debounces change events for one file and runs a cycle per change.
type Watcher struct {
	path       string
	debounce   time.Duration
	fs         *fsnotify.Watcher
	ignoreNext bool
}

// New creates a Watcher for path. Debounce is the settle delay after an
// event before a cycle starts.
func New(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{path: abs, debounce: debounce, fs: fs}, nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run dispatches cycles until ctx is canceled. cycle reports whether it
// committed the document; the immediately following change event is then
// ignored so the pipeline does not react to its own write. Cycles run
// strictly sequentially on this goroutine.
func (w *Watcher) Run(ctx context.Context, cycle func() bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}

			// Let the editor finish writing before reading.
			time.Sleep(w.debounce)

			if w.ignoreNext {
				w.ignoreNext = false
				continue
			}

			log.Debug().Str("op", ev.Op.String()).Msg("chat file changed")
			if cycle() {
				w.ignoreNext = true
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}
