package watch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contentHash treats the file content as the hash.
func contentHash(path string) HashFunc {
	return func() (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func waitForChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case change := <-w.Changes:
		return change
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestWatcher_ReportsHashChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	w, err := New([]string{path}, contentHash(path))
	require.NoError(t, err)
	w.Debounce = 20 * time.Millisecond
	initial, err := w.Start()
	require.NoError(t, err)
	defer w.Stop()
	assert.Equal(t, "v1", initial)

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	change := waitForChange(t, w)
	require.NoError(t, change.Err)
	assert.Equal(t, path, change.File)
	assert.Equal(t, "v1", change.Previous)
	assert.Equal(t, "v2", change.Hash)
}

func TestWatcher_SameHashIsSilent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("same"), 0o644))

	calls := make(chan struct{}, 16)
	hash := func() (string, error) {
		calls <- struct{}{}
		return "constant", nil
	}

	w, err := New([]string{path}, hash)
	require.NoError(t, err)
	w.Debounce = 20 * time.Millisecond
	_, err = w.Start()
	require.NoError(t, err)
	defer w.Stop()
	<-calls

	require.NoError(t, os.WriteFile(path, []byte("touched"), 0o644))

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("hash was not recomputed after the edit")
	}
	select {
	case change := <-w.Changes:
		t.Fatalf("unexpected change %+v", change)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_HashErrorReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	broken := errors.New("invalid yaml")
	first := true
	hash := func() (string, error) {
		if first {
			first = false
			return "v1", nil
		}
		return "", broken
	}

	w, err := New([]string{path}, hash)
	require.NoError(t, err)
	w.Debounce = 20 * time.Millisecond
	_, err = w.Start()
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(":"), 0o644))

	change := waitForChange(t, w)
	assert.ErrorIs(t, change.Err, broken)
	assert.Equal(t, "v1", change.Previous)
}

func TestWatcher_StartFailsWhenHashFails(t *testing.T) {
	w, err := New([]string{filepath.Join(t.TempDir(), "missing.yaml")}, func() (string, error) {
		return "", os.ErrNotExist
	})
	require.NoError(t, err)
	_, err = w.Start()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
