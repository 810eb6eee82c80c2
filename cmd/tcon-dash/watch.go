package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// journalChangedMsg is sent when the journal database or its WAL changes.
type journalChangedMsg struct{}

// journalWatcher watches the directory holding the journal. SQLite in WAL
// mode writes the -wal sidecar, so the directory is watched rather than
// the database file.
type journalWatcher struct {
	w    *fsnotify.Watcher
	base string
}

// newJournalWatcher watches the directory of path. Returns nil if the
// directory doesn't exist or the watcher cannot be created; the dashboard
// then refreshes on its tick alone.
func newJournalWatcher(path string) *journalWatcher {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to polling)", dir, err)
		return nil
	}
	return &journalWatcher{w: w, base: filepath.Base(path)}
}

// relevant reports whether an event touches the journal or its sidecars.
func (j *journalWatcher) relevant(ev fsnotify.Event) bool {
	return strings.HasPrefix(filepath.Base(ev.Name), j.base)
}

// next returns a tea.Cmd that blocks until the journal changes, debounced so
// a burst of writes produces one message. Re-issue it after each message.
func (j *journalWatcher) next() tea.Cmd {
	if j == nil {
		return nil
	}
	return func() tea.Msg {
		debounceTimer := newDebounceTimer()
		defer debounceTimer.Stop()

		for {
			select {
			case event, ok := <-j.w.Events:
				if !ok {
					return nil
				}
				if j.relevant(event) {
					resetDebounceTimer(debounceTimer)
				}

			case <-debounceTimer.C:
				return journalChangedMsg{}

			case err, ok := <-j.w.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
				return nil
			}
		}
	}
}

func (j *journalWatcher) Close() error {
	if j == nil {
		return nil
	}
	return j.w.Close()
}

// newDebounceTimer creates a stopped timer for debouncing file system events.
func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

// resetDebounceTimer restarts the debounce window.
func resetDebounceTimer(timer *time.Timer) {
	const debounceDuration = 100 * time.Millisecond
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}
