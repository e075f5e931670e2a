package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanhaley32/claude-habitat/internal/cachehash"
	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
	"github.com/jeanhaley32/claude-habitat/internal/docker/dockertest"
	"github.com/jeanhaley32/claude-habitat/internal/phase"
	"github.com/jeanhaley32/claude-habitat/internal/repo"
)

const minimalConfig = `
name: base
env:
  - WORKDIR=/workspace
  - USER=root
`

// loadConfig writes source as {root}/habitats/<name>/config.yaml and
// loads it without system or shared layers.
func loadConfig(t *testing.T, source string) *config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), constants.HabitatsDir, "test")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, constants.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))

	cfg, err := config.Load(path, config.LoadOptions{HostHome: t.TempDir()})
	require.NoError(t, err)
	return cfg
}

func newManager(engine *dockertest.Engine) *Manager {
	m := NewManager(engine)
	m.RemoveTimeout = time.Second
	return m
}

// commandLog records the shell scripts executed in containers.
type commandLog struct {
	mu      sync.Mutex
	scripts []string
}

func (l *commandLog) handler(_ string, spec docker.ExecSpec) (docker.ExecResult, bool) {
	if len(spec.Command) == 3 && spec.Command[0] == "/bin/sh" {
		l.mu.Lock()
		l.scripts = append(l.scripts, spec.Command[2])
		l.mu.Unlock()
	}
	return docker.ExecResult{}, false
}

func (l *commandLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.scripts...)
}

func TestPrepare_EndToEndThenCacheHit(t *testing.T) {
	cfg := loadConfig(t, minimalConfig)
	engine := dockertest.New()
	m := newManager(engine)

	first := m.Prepare(context.Background(), cfg, PrepareOptions{})
	require.NoError(t, first.Err)
	assert.True(t, first.Success)
	assert.False(t, first.CacheHit)
	assert.Len(t, first.Phases, len(phase.All()))

	expectedHash, err := cachehash.Calculate(cfg.Raw, nil)
	require.NoError(t, err)
	assert.Equal(t, expectedHash, first.CacheHash)
	assert.Equal(t, "claude-habitat-base:latest", first.BaseTag)
	assert.Equal(t, "claude-habitat-base:latest-prepared-"+expectedHash, first.ImageTag)

	prepared, ok := engine.Image(first.ImageTag)
	require.True(t, ok, "prepared image was not committed")
	assert.Equal(t, expectedHash, prepared.Labels[constants.LabelCacheHash])
	assert.Equal(t, first.BaseTag, prepared.From)
	assert.Contains(t, prepared.Changes, "WORKDIR /workspace")
	assert.Contains(t, prepared.Changes, "USER root")

	assert.Len(t, engine.Builds(), 1)
	assert.Zero(t, engine.Containers(), "build container should be removed")

	second := m.Prepare(context.Background(), loadConfig(t, minimalConfig), PrepareOptions{})
	require.NoError(t, second.Err)
	assert.True(t, second.Success)
	assert.True(t, second.CacheHit)
	assert.Empty(t, second.Phases)
	assert.Equal(t, first.ImageTag, second.ImageTag)
	assert.Len(t, engine.Builds(), 1)
	assert.Len(t, engine.Removed(), 1)
}

func TestPrepare_RebuildIgnoresCache(t *testing.T) {
	cfg := loadConfig(t, minimalConfig)
	engine := dockertest.New()
	m := newManager(engine)

	require.True(t, m.Prepare(context.Background(), cfg, PrepareOptions{}).Success)
	rebuilt := m.Prepare(context.Background(), cfg, PrepareOptions{Rebuild: true})

	require.NoError(t, rebuilt.Err)
	assert.False(t, rebuilt.CacheHit)
	builds := engine.Builds()
	require.Len(t, builds, 2)
	assert.True(t, builds[1].NoCache)
}

func TestPrepare_BaseImageReused(t *testing.T) {
	cfg := loadConfig(t, minimalConfig)
	engine := dockertest.New()
	engine.AddImage("claude-habitat-base:latest", nil)

	result := newManager(engine).Prepare(context.Background(), cfg, PrepareOptions{})
	require.NoError(t, result.Err)
	assert.Empty(t, engine.Builds())
}

func TestPrepare_FailureNeverCommits(t *testing.T) {
	cfg := loadConfig(t, minimalConfig)
	engine := dockertest.New()
	engine.HandleExec(func(_ string, spec docker.ExecSpec) (docker.ExecResult, bool) {
		if len(spec.Command) == 3 && strings.Contains(spec.Command[2], constants.EnvProfilePath) {
			return docker.ExecResult{ExitCode: 1, Stderr: "read-only file system"}, true
		}
		return docker.ExecResult{}, false
	})

	result := newManager(engine).Prepare(context.Background(), cfg, PrepareOptions{})

	assert.False(t, result.Success)
	assert.Equal(t, phase.Env, result.FailedPhase)
	var containerErr *docker.ContainerError
	require.ErrorAs(t, result.Err, &containerErr)
	assert.Equal(t, 1, containerErr.ExitCode)

	_, committed := engine.Image(result.ImageTag)
	assert.False(t, committed)
	assert.Zero(t, engine.Containers())

	var names []phase.Name
	for _, report := range result.Phases {
		names = append(names, report.Phase.Name)
	}
	assert.Equal(t, []phase.Name{phase.Base, phase.Users, phase.Env}, names)
}

func TestPrepare_PhaseTimeout(t *testing.T) {
	cfg := loadConfig(t, minimalConfig+`
timeout:
  env: 50ms
`)
	engine := dockertest.New()
	engine.DelayExec(5 * time.Second)

	start := time.Now()
	result := newManager(engine).Prepare(context.Background(), cfg, PrepareOptions{})

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, phase.Env, result.FailedPhase)
	var timeoutErr *phase.TimeoutError
	require.ErrorAs(t, result.Err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.Contains(t, result.Err.Error(), "timeout waiting for phase env after 50ms")
	assert.Zero(t, engine.Containers())
}

func TestPrepare_TimeoutExcludedFromHash(t *testing.T) {
	m := newManager(dockertest.New())
	plain, err := m.GenerateCacheHash(loadConfig(t, minimalConfig), nil)
	require.NoError(t, err)
	withTimeout, err := m.GenerateCacheHash(loadConfig(t, minimalConfig+"timeout:\n  per-phase: 5m\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, plain, withTimeout)
}

func TestPrepare_HookOrder(t *testing.T) {
	cfg := loadConfig(t, minimalConfig+`
scripts:
  root:
    - echo main
hooks:
  - before: scripts
    run: [echo before-1]
  - before: scripts
    run: [echo before-2]
  - after: scripts
    run: [echo after-1]
  - after: scripts
    run: [echo after-2]
`)
	engine := dockertest.New()
	log := &commandLog{}
	engine.HandleExec(log.handler)

	result := newManager(engine).Prepare(context.Background(), cfg, PrepareOptions{})
	require.NoError(t, result.Err)

	var echoes []string
	for _, script := range log.all() {
		if strings.HasPrefix(script, "echo ") {
			echoes = append(echoes, strings.TrimPrefix(script, "echo "))
		}
	}
	assert.Equal(t, []string{"before-1", "before-2", "main", "after-2", "after-1"}, echoes)
}

func TestPrepare_ScriptsRootFirst(t *testing.T) {
	cfg := loadConfig(t, minimalConfig+`
scripts:
  zed:
    - echo zed
  node:
    - echo node
  root:
    - echo root
`)
	engine := dockertest.New()
	var (
		mu    sync.Mutex
		order []string
	)
	engine.HandleExec(func(_ string, spec docker.ExecSpec) (docker.ExecResult, bool) {
		if len(spec.Command) == 3 && strings.HasPrefix(spec.Command[2], "echo ") {
			mu.Lock()
			order = append(order, spec.User)
			mu.Unlock()
		}
		return docker.ExecResult{}, false
	})

	result := newManager(engine).Prepare(context.Background(), cfg, PrepareOptions{})
	require.NoError(t, result.Err)
	assert.Equal(t, []string{"root", "node", "zed"}, order)
}

func TestPrepare_FilesAndFileHooks(t *testing.T) {
	cfg := loadConfig(t, minimalConfig+`
files:
  - src: /host/gitconfig
    dest: ~/.gitconfig
    mode: "0644"
  - src: /host/ssh-key
    dest: /root/.ssh/id_ed25519
    before: repos
    description: ssh key
verify-fs:
  required_files:
    - ~/.gitconfig
    - /root/.ssh/id_ed25519
`)
	engine := dockertest.New()
	var (
		mu     sync.Mutex
		chmods []string
	)
	engine.HandleExec(func(_ string, spec docker.ExecSpec) (docker.ExecResult, bool) {
		if len(spec.Command) == 3 && strings.HasPrefix(spec.Command[2], "chmod ") {
			mu.Lock()
			chmods = append(chmods, spec.Command[2])
			mu.Unlock()
		}
		return docker.ExecResult{}, false
	})

	result := newManager(engine).Prepare(context.Background(), cfg, PrepareOptions{})

	// Verification passes only when both copies landed.
	require.NoError(t, result.Err)
	assert.Equal(t, []string{"chmod 0644 '/root/.gitconfig'"}, chmods)
	assert.Len(t, engine.Removed(), 1)
}

func TestPrepare_VerifyFailureReportsAllMissing(t *testing.T) {
	cfg := loadConfig(t, minimalConfig+`
verify-fs:
  required_files:
    - /missing/one
    - /workspace
    - /missing/two
`)
	engine := dockertest.New()

	result := newManager(engine).Prepare(context.Background(), cfg, PrepareOptions{})
	assert.Equal(t, phase.Verify, result.FailedPhase)
	assert.ErrorContains(t, result.Err, "/missing/one, /missing/two")
}

type stubAccess struct {
	err  error
	urls []string
}

func (s *stubAccess) TestAccess(_ context.Context, url, _ string) (repo.Result, error) {
	s.urls = append(s.urls, url)
	return repo.Result{URL: url}, s.err
}

func TestPrepare_ExtraReposClonedAndHashed(t *testing.T) {
	cfg := loadConfig(t, minimalConfig+`
repositories:
  - url: https://github.com/example/app
    path: /workspace/app
`)
	engine := dockertest.New()
	log := &commandLog{}
	engine.HandleExec(log.handler)
	access := &stubAccess{}

	m := newManager(engine)
	m.Access = access
	plain, err := m.GenerateCacheHash(cfg, nil)
	require.NoError(t, err)

	result := m.Prepare(context.Background(), cfg, PrepareOptions{
		ExtraRepos: []string{"https://github.com/example/lib:/workspace/lib:dev"},
	})
	require.NoError(t, result.Err)
	assert.NotEqual(t, plain, result.CacheHash)
	assert.Equal(t, []string{"https://github.com/example/app", "https://github.com/example/lib"}, access.urls)

	var clones []string
	for _, script := range log.all() {
		if strings.Contains(script, "git clone") {
			clones = append(clones, script)
		}
	}
	require.Len(t, clones, 2)
	assert.Contains(t, clones[1], "--branch 'dev'")
	assert.Contains(t, clones[1], "'/workspace/lib'")
}

func TestPrepare_RepositoryAccessFailure(t *testing.T) {
	cfg := loadConfig(t, minimalConfig+`
repositories:
  - url: https://github.com/example/private
    path: /workspace/private
`)
	m := newManager(dockertest.New())
	cause := errors.New("authentication required")
	m.Access = &stubAccess{err: &repo.RepositoryError{URL: "https://github.com/example/private", Op: "list remote", Err: cause}}

	result := m.Prepare(context.Background(), cfg, PrepareOptions{})
	assert.Equal(t, phase.Repos, result.FailedPhase)
	var repoErr *repo.RepositoryError
	require.ErrorAs(t, result.Err, &repoErr)
	assert.ErrorIs(t, result.Err, cause)
}

func TestPrepare_InvalidExtraRepo(t *testing.T) {
	result := newManager(dockertest.New()).Prepare(context.Background(), loadConfig(t, minimalConfig), PrepareOptions{
		ExtraRepos: []string{"not-a-repo"},
	})
	assert.False(t, result.Success)
	assert.Error(t, result.Err)
	assert.Empty(t, result.Phases)
}
