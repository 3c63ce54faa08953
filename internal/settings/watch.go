package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 100 * time.Millisecond

// Watch owns the file-change subscription and applies external edits
// through Reload until ctx is done. The directory is watched instead of
// the file so atomic renames keep being seen.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch '%s': %w", dir, err)
	}
	target := filepath.Clean(s.path)
	s.log.Info("watching settings file", "path", s.path)

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(reloadDelay)
			} else if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				s.log.Warn("settings file removed, keeping current settings", "path", s.path)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("settings watcher error", "error", err)

		case <-timer.C:
			// Reload logs its own failures.
			_ = s.Reload()
		}
	}
}
