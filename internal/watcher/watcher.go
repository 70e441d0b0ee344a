// Package watcher turns filesystem events on a SQLite database file into
// change notifications.
package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// companion files SQLite writes next to the database
var companionSuffixes = []string{"", "-wal", "-journal", "-shm"}

// FileWatcher emits on Events whenever the watched file or one of its
// SQLite companions changes. Events are coalesced: a pending notification
// absorbs further ones until it is received.
type FileWatcher struct {
	path    string
	fsw     *fsnotify.Watcher
	events  chan struct{}
	log     *slog.Logger
	done    chan struct{}
	closeMu sync.Once
	wg      sync.WaitGroup
}

// New watches the directory containing path. Watching the directory keeps
// working when the game server replaces the file instead of writing to it.
func New(path string, log *slog.Logger) (*FileWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &FileWatcher{
		path:   abs,
		fsw:    fsw,
		events: make(chan struct{}, 1),
		log:    log.With("path", abs),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()

	w.log.Info("Registered file watcher")
	return w, nil
}

// Events delivers one value per burst of changes not yet received.
func (w *FileWatcher) Events() <-chan struct{} {
	return w.events
}

// Close stops watching. Events is not closed.
func (w *FileWatcher) Close() error {
	var err error
	w.closeMu.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *FileWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("Database file changed", "op", ev.Op.String(), "name", filepath.Base(ev.Name))
			select {
			case w.events <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("File watcher error", "error", err)
		}
	}
}

func (w *FileWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Clean(ev.Name)
	if !strings.HasPrefix(name, w.path) {
		return false
	}
	suffix := strings.TrimPrefix(name, w.path)
	for _, s := range companionSuffixes {
		if suffix == s {
			return true
		}
	}
	return false
}
