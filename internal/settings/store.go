package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"coop-door-controller/internal/logging"
)

// Store owns the current Settings. All reads and writes go through one
// lock; readers always get a complete copy.
type Store struct {
	path string
	log  *logging.Logger

	mu       sync.RWMutex
	current  Settings
	onChange func(Settings)
	onReload func(error)

	// writeMu serializes file writes so two Write calls cannot interleave
	// their rename and Replace steps.
	writeMu sync.Mutex
}

// NewStore creates a store backed by path, holding defaults until
// LoadOrDefault or Reload succeeds.
func NewStore(path string, log *logging.Logger) *Store {
	return &Store{
		path:    path,
		log:     log.With("component", "settings"),
		current: Default(),
	}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// SetOnChange registers a callback invoked after the value changes.
func (s *Store) SetOnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// SetOnReload registers a callback invoked after every reload attempt
// with its result.
func (s *Store) SetOnReload(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = fn
}

// LoadOrDefault reads the backing file. A missing file is not an error and
// yields defaults. Any other failure leaves the defaults in place and is
// returned for the caller to log.
func (s *Store) LoadOrDefault() (Settings, error) {
	loaded, err := readFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Info("settings file not found, using defaults", "path", s.path)
			s.Replace(Default())
			return Default(), nil
		}
		return s.Get(), err
	}
	s.Replace(loaded)
	s.log.Info("settings loaded", "path", s.path, "settings", loaded)
	return loaded, nil
}

// Get returns a snapshot of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace swaps in a new value. Observers are notified only when the value
// actually changed.
func (s *Store) Replace(next Settings) {
	s.mu.Lock()
	changed := s.current != next
	s.current = next
	onChange := s.onChange
	s.mu.Unlock()

	if changed && onChange != nil {
		onChange(next)
	}
}

// Write persists next atomically and then makes it current. On failure the
// in-memory value is untouched.
func (s *Store) Write(next Settings) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := Encode(next)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write settings file '%s': %w", s.path, err)
	}
	s.Replace(next)
	s.log.Info("settings written", "path", s.path, "settings", next)
	return nil
}

// Reload re-reads the backing file. A failure keeps the previous value.
func (s *Store) Reload() error {
	next, err := readFile(s.path)

	s.mu.RLock()
	onReload := s.onReload
	s.mu.RUnlock()
	if onReload != nil {
		onReload(err)
	}

	if err != nil {
		s.log.Warn("settings reload failed, keeping previous settings", "path", s.path, "error", err)
		return err
	}
	s.Replace(next)
	s.log.Info("settings reloaded", "path", s.path, "settings", next)
	return nil
}

func readFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file '%s': %w", path, err)
	}
	return Decode(data)
}

// writeFileAtomic writes to a temp file in the target directory, syncs it
// and renames it over the target.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
