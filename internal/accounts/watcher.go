package accounts

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events an atomic replace (write to
// temp file, rename) produces into a single reload.
const reloadDebounce = 150 * time.Millisecond

// Watch reloads the store when another process (the launcher UI shares the
// same files) edits accounts.json or account.json. It returns once the
// watcher is installed; reloads happen on a background goroutine until ctx
// is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if name != accountsFileName && name != currentFileName {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, s.reloadIfChanged)
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("accounts: watcher error: %v", errWatch)
			}
		}
	}()

	return nil
}

// reloadIfChanged re-reads the store files when their content hash differs
// from the last state this process wrote, so our own flushes do not trigger
// redundant reloads.
func (s *Store) reloadIfChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, name := range []string{accountsFileName, currentFileName} {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				if _, had := s.lastHashes[name]; had {
					changed = true
				}
				continue
			}
			log.Warnf("accounts: failed to re-read %s: %v", path, err)
			continue
		}
		if s.lastHashes[name] != hashBytes(data) {
			changed = true
		}
	}
	if !changed {
		return
	}

	log.Debug("accounts: store files changed externally, reloading")
	s.loadLocked()
}
