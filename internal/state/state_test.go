package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
	"github.com/jeanhaley32/claude-habitat/internal/docker/dockertest"
	"github.com/jeanhaley32/claude-habitat/internal/image"
)

func TestFileStore_RoundTrip(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "nested", constants.LastUsedFileName)}

	_, err := store.LastUsed()
	assert.ErrorIs(t, err, ErrNoRecord)

	when := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, store.SetLastUsed(LastUsed{ConfigPath: "/projects/habitats/web/config.yaml", Timestamp: when}))

	record, err := store.LastUsed()
	require.NoError(t, err)
	assert.Equal(t, "/projects/habitats/web/config.yaml", record.ConfigPath)
	assert.True(t, record.Timestamp.Equal(when))

	data, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "config_path")
	assert.Contains(t, string(data), "/projects/habitats/web/config.yaml")

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, constants.FilePermissions, info.Mode().Perm())
}

func TestFileStore_Corrupt(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), constants.LastUsedFileName)}
	require.NoError(t, os.WriteFile(store.Path, []byte("config_path = ["), 0o600))

	_, err := store.LastUsed()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRecord)
}

func TestMemoryStore(t *testing.T) {
	store := &MemoryStore{}
	_, err := store.LastUsed()
	assert.ErrorIs(t, err, ErrNoRecord)

	now := time.Date(2026, 1, 1, 0, 0, 0, 500, time.UTC)
	require.NoError(t, RecordUse(store, "/a/config.yaml", now))
	record, err := store.LastUsed()
	require.NoError(t, err)
	assert.Equal(t, "/a/config.yaml", record.ConfigPath)
	assert.Equal(t, now.Truncate(time.Second), record.Timestamp)
}

func writeHabitat(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, constants.HabitatsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, constants.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("name: "+name+"\n"), 0o644))
	return path
}

func TestResolver(t *testing.T) {
	root := t.TempDir()
	webPath := writeHabitat(t, root, "web")
	apiPath := writeHabitat(t, root, "api")
	store := &MemoryStore{}
	r := &Resolver{Root: root, Store: store}
	empty := t.TempDir()

	t.Run("explicit path", func(t *testing.T) {
		got, err := r.Resolve(webPath, empty)
		require.NoError(t, err)
		assert.Equal(t, webPath, got)
	})

	t.Run("habitat name", func(t *testing.T) {
		got, err := r.Resolve("api", empty)
		require.NoError(t, err)
		assert.Equal(t, apiPath, got)
	})

	t.Run("unknown name lists checked paths", func(t *testing.T) {
		_, err := r.Resolve("nope", empty)
		var notFound *ConfigNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Len(t, notFound.Checked, 2)
		assert.Contains(t, err.Error(), filepath.Join(root, constants.HabitatsDir, "nope", constants.ConfigFileName))
	})

	t.Run("local config", func(t *testing.T) {
		got, err := r.Resolve("", filepath.Dir(webPath))
		require.NoError(t, err)
		assert.Equal(t, webPath, got)
	})

	t.Run("last used", func(t *testing.T) {
		_, err := r.Resolve("", empty)
		assert.Error(t, err)

		require.NoError(t, RecordUse(store, apiPath, time.Now()))
		got, err := r.Resolve("", empty)
		require.NoError(t, err)
		assert.Equal(t, apiPath, got)
	})
}

func TestListHabitats(t *testing.T) {
	root := t.TempDir()
	writeHabitat(t, root, "web")
	writeHabitat(t, root, "api")
	require.NoError(t, os.MkdirAll(filepath.Join(root, constants.HabitatsDir, "empty"), 0o755))

	names, err := ListHabitats(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "web"}, names)

	names, err = ListHabitats(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDetector(t *testing.T) {
	env, err := config.CoalesceEnv([]string{"WORKDIR=/workspace", "USER=root"})
	require.NoError(t, err)
	cfg := &config.Config{Name: "web", Env: env, Raw: map[string]any{"name": "web"}}

	engine := dockertest.New()
	detector := NewDetector(engine, "ws")

	before, err := detector.Detect(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, before.BaseExists)
	assert.True(t, before.NeedsBuild())
	assert.Equal(t, "habitat-web-ws", before.ContainerName)
	assert.Len(t, before.CacheHash, constants.CacheHashLength)

	engine.AddImage("claude-habitat-web:latest", nil)
	engine.AddImage(image.PreparedTag("claude-habitat-web:latest", before.CacheHash), nil)
	_, err = engine.Run(context.Background(), docker.RunSpec{Image: "claude-habitat-web:latest", Name: "habitat-web-ws"})
	require.NoError(t, err)

	after, err := detector.Detect(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, after.BaseExists)
	assert.True(t, after.PreparedExists)
	assert.False(t, after.NeedsBuild())
	assert.True(t, after.ContainerRunning)
}

func TestNewFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-used.toml")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path)

	store, err = NewFileStore("")
	require.NoError(t, err)
	assert.Equal(t, "last-used.toml", filepath.Base(store.Path))
}
