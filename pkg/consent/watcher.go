package consent

import (
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the consent file and signals when it changes, so a
// long-running host picks up policy edits (from another beacon process or a
// text editor) without restarting. It does NOT apply the new policy itself;
// the callback decides when and how to reload.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	stopChan chan struct{}
	onChange func()
}

// NewWatcher creates a watcher that calls onChange whenever the consent file
// is modified.
func NewWatcher(onChange func()) *Watcher {
	return &Watcher{onChange: onChange}
}

// Watch starts watching path. Watching the parent directory rather than the
// file itself catches atomic saves (write temp file, then rename), which is
// how both beacon and most editors write the file.
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.path = filepath.Clean(path)
	w.stopChan = make(chan struct{})

	go w.watchLoop()

	slog.Debug("Watching consent file", "path", path)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	if w.stopChan != nil {
		close(w.stopChan)
		w.stopChan = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	w.path = ""
}

func (w *Watcher) watchLoop() {
	// Debounce rapid successive events from editor save sequences.
	var debounce *time.Timer
	const debounceDelay = 300 * time.Millisecond

	w.mu.Lock()
	watcher := w.watcher
	stopChan := w.stopChan
	w.mu.Unlock()

	if watcher == nil {
		return
	}

	for {
		select {
		case <-stopChan:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			w.mu.Lock()
			target := w.path
			w.mu.Unlock()

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Basename match covers atomic saves through temp files.
			if filepath.Base(filepath.Clean(event.Name)) != filepath.Base(target) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				slog.Debug("Consent file changed", "path", target)
				if w.onChange != nil {
					w.onChange()
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Consent file watcher error", "error", err)
		}
	}
}
