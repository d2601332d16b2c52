package calendar

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a calendar's holiday table when its file changes.
type Watcher struct {
	path     string
	calendar *Calendar
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// Watch starts watching path and applies every successful reload to c.
func Watch(path string, c *Calendar, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so editors that replace the file atomically still trigger.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     path,
		calendar: c,
		watcher:  fw,
		logger:   logger.With().Str("component", "calendar-watcher").Logger(),
		stopCh:   make(chan struct{}),
	}
	go w.loop()

	w.logger.Info().Str("path", path).Msg("Watching holiday file for changes")
	return w, nil
}

// Stop ends the watch.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

func (w *Watcher) loop() {
	filename := filepath.Base(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Holiday file watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	t, err := LoadTable(w.path)
	if err != nil {
		// Keep the previous table; a half-written file is common during saves.
		w.logger.Error().Err(err).Msg("Failed to reload holiday table")
		return
	}
	w.calendar.SetHolidays(t)
}
