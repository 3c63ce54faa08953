package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-door-controller/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "settings.yaml"), logging.Discard())
}

func sample() Settings {
	return Settings{
		LightLevels: LightLevels{Open: 60, Close: 10},
		Times:       Times{Open: Clock(7, 0, 0), Close: Clock(20, 30, 0)},
	}
}

func TestStore_MissingFileYieldsDefaults(t *testing.T) {
	s := newTestStore(t)

	got, err := s.LoadOrDefault()
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
	assert.Equal(t, Default(), s.Get())
}

func TestStore_LoadExistingFile(t *testing.T) {
	s := newTestStore(t)
	data, err := Encode(sample())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), data, 0644))

	got, err := s.LoadOrDefault()
	require.NoError(t, err)
	assert.Equal(t, sample(), got)
	assert.Equal(t, sample(), s.Get())
}

func TestStore_LoadMalformedKeepsDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("times: ["), 0644))

	_, err := s.LoadOrDefault()
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, Default(), s.Get())
}

func TestStore_WritePersistsAndReplaces(t *testing.T) {
	s := newTestStore(t)

	var notified []Settings
	s.SetOnChange(func(next Settings) { notified = append(notified, next) })

	require.NoError(t, s.Write(sample()))
	assert.Equal(t, sample(), s.Get())
	assert.Equal(t, []Settings{sample()}, notified)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	onDisk, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sample(), onDisk)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_WriteFailureLeavesValue(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing-dir", "settings.yaml"), logging.Discard())

	err := s.Write(sample())
	assert.Error(t, err)
	assert.Equal(t, Default(), s.Get())
}

func TestStore_ReplaceNotifiesOnlyOnChange(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	s.SetOnChange(func(Settings) { calls++ })

	s.Replace(Default())
	assert.Equal(t, 0, calls)

	s.Replace(sample())
	s.Replace(sample())
	assert.Equal(t, 1, calls)
}

func TestStore_ReloadMalformedKeepsLastGood(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(sample()))

	var reloadErrs []error
	s.SetOnReload(func(err error) { reloadErrs = append(reloadErrs, err) })

	require.NoError(t, os.WriteFile(s.Path(), []byte("light_levels: {open: oops"), 0644))
	err := s.Reload()
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, sample(), s.Get())

	require.NoError(t, os.Remove(s.Path()))
	assert.Error(t, s.Reload())
	assert.Equal(t, sample(), s.Get())

	require.Len(t, reloadErrs, 2)
}

func TestStore_ConcurrentReadersSeeWholeValues(t *testing.T) {
	s := newTestStore(t)
	a := Settings{LightLevels: LightLevels{Open: 1, Close: 1}, Times: Times{Open: Clock(1, 1, 1), Close: Clock(1, 1, 1)}}
	b := Settings{LightLevels: LightLevels{Open: 2, Close: 2}, Times: Times{Open: Clock(2, 2, 2), Close: Clock(2, 2, 2)}}
	s.Replace(a)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				s.Replace(a)
			} else {
				s.Replace(b)
			}
		}
	}()

	for i := 0; i < 10000; i++ {
		got := s.Get()
		if got != a && got != b {
			t.Fatalf("torn read: %+v", got)
		}
	}
	close(stop)
	wg.Wait()
}

func TestStore_WatchAppliesExternalEdits(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(sample()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)

	edited := sample()
	edited.LightLevels.Close = 25
	data, err := Encode(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), data, 0644))

	assert.Eventually(t, func() bool { return s.Get() == edited }, 3*time.Second, 20*time.Millisecond)

	// A malformed external write is ignored.
	require.NoError(t, os.WriteFile(s.Path(), []byte("::: not settings"), 0644))
	time.Sleep(4 * reloadDelay)
	assert.Equal(t, edited, s.Get())
}
