package phase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanhaley32/claude-habitat/internal/duration"
)

func TestAll_DenseOrdering(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)

	for index, p := range all {
		assert.Equal(t, index+1, p.ID, "phase %s", p.Name)
		assert.NotEmpty(t, ConfigSections(p.Name), "phase %s has no config sections", p.Name)

		byID, ok := ByID(p.ID)
		require.True(t, ok)
		assert.Equal(t, p.Name, byID.Name)
	}

	_, ok := ByID(0)
	assert.False(t, ok)
	_, ok = ByID(len(all) + 1)
	assert.False(t, ok)
}

func TestConfigSections(t *testing.T) {
	assert.Equal(t, []string{"repos", "repositories"}, ConfigSections(Repos))
	assert.Equal(t, []string{"entry", "container", "claude"}, ConfigSections(Final))
	assert.Nil(t, ConfigSections("deploy"))
}

func TestAll_ReturnsCopies(t *testing.T) {
	all := All()
	all[0].ConfigSections[0] = "mutated"
	assert.Equal(t, "base_image", All()[0].ConfigSections[0])
}

func TestKnownSections_UniqueAcrossPhases(t *testing.T) {
	seen := map[string]Name{}
	for _, p := range All() {
		for _, section := range p.ConfigSections {
			previous, dup := seen[section]
			assert.False(t, dup, "section %q claimed by %s and %s", section, previous, p.Name)
			seen[section] = p.Name
		}
	}
	assert.Len(t, KnownSections(), len(seen))
}

func TestHookKey(t *testing.T) {
	assert.Equal(t, "before:repos-scripts", HookKey(Before, Repos, "scripts"))
	assert.Equal(t, "after:final", HookKey(After, Final, ""))
}

// recorder collects the order actions ran in.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) action(name, subaction string) Action {
	return Action{Name: name, Subaction: subaction, Run: func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	}}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestRunner_HookOrdering(t *testing.T) {
	rec := &recorder{}
	hooks := NewRegistry()
	require.NoError(t, hooks.Register(Before, Repos, rec.action("before-1", "files")))
	require.NoError(t, hooks.Register(Before, Repos, rec.action("before-2", "scripts")))
	require.NoError(t, hooks.Register(After, Repos, rec.action("after-1", "files")))
	require.NoError(t, hooks.Register(After, Repos, rec.action("after-2", "scripts")))

	runner := &Runner{Hooks: hooks}
	result := runner.Run(context.Background(), map[Name]Action{
		Scripts: rec.action("scripts", ""),
		Repos:   rec.action("repos", ""),
		Tools:   rec.action("tools", ""),
	})

	require.NoError(t, result.Err)
	assert.Equal(t, []string{
		"scripts",
		"before-1", "before-2", "repos", "after-2", "after-1",
		"tools",
	}, rec.snapshot())
	assert.Len(t, result.Reports, len(All()))
}

func TestRegistry_RejectsUnknownPhase(t *testing.T) {
	hooks := NewRegistry()
	err := hooks.Register(Before, "deploy", Action{Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
	err = hooks.Register(Before, Repos, Action{})
	assert.Error(t, err)
	assert.Zero(t, hooks.Len())
}

func TestRunner_FailureStopsPipeline(t *testing.T) {
	rec := &recorder{}
	cause := errors.New("clone failed")

	runner := &Runner{}
	result := runner.Run(context.Background(), map[Name]Action{
		Files: rec.action("files", ""),
		Repos: {Name: "repos", Run: func(context.Context) error { return cause }},
		Tools: rec.action("tools", ""),
	})

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, cause)

	var phaseErr *Error
	require.ErrorAs(t, result.Err, &phaseErr)
	assert.Equal(t, Repos, phaseErr.Phase)
	assert.Contains(t, result.Err.Error(), `phase "repos" failed`)

	failed, ok := result.Failed()
	require.True(t, ok)
	assert.Equal(t, Repos, failed)

	assert.Equal(t, []string{"files"}, rec.snapshot())
	assert.True(t, result.Ran(Repos))
	assert.False(t, result.Ran(Tools))
}

func TestRunner_HookFailureNamesHook(t *testing.T) {
	hooks := NewRegistry()
	require.NoError(t, hooks.Register(Before, Files, Action{
		Name:      "copy ssh key",
		Subaction: "files",
		Run:       func(context.Context) error { return errors.New("no such file") },
	}))

	result := (&Runner{Hooks: hooks}).Run(context.Background(), nil)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "before:files-files (copy ssh key)")
}

func TestRunner_TimeoutHaltsPipeline(t *testing.T) {
	rec := &recorder{}
	runner := &Runner{Timeouts: duration.Config{"repos": "50ms"}}

	result := runner.Run(context.Background(), map[Name]Action{
		Repos: {Name: "slow clone", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		Tools: rec.action("tools", ""),
	})

	require.Error(t, result.Err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, result.Err, &timeoutErr)
	assert.Equal(t, Repos, timeoutErr.Phase)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.Contains(t, result.Err.Error(), "timeout waiting for phase repos after 50ms (elapsed ")
	assert.GreaterOrEqual(t, timeoutErr.Elapsed, 50*time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestTimeoutError_ReportsElapsed(t *testing.T) {
	err := &TimeoutError{Phase: Tools, Timeout: 2 * time.Minute, Elapsed: 2*time.Minute + 1500*time.Millisecond}
	assert.EqualError(t, err, "timeout waiting for phase tools after 2m (elapsed 2m 1s 500ms)")
}

func TestRunner_TimeoutAbandonsUncooperativeAction(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	runner := &Runner{Timeouts: duration.Config{duration.PerPhaseKey: "20ms"}}
	start := time.Now()
	result := runner.Run(context.Background(), map[Name]Action{
		Base: {Run: func(context.Context) error {
			<-release
			return nil
		}},
	})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, result.Err, &timeoutErr)
	assert.Equal(t, Base, timeoutErr.Phase)
	assert.Less(t, time.Since(start), abandonGrace+time.Second)
}

func TestRunner_InvalidTimeoutFailsPhase(t *testing.T) {
	runner := &Runner{Timeouts: duration.Config{"base": "never"}}
	result := runner.Run(context.Background(), nil)

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, duration.ErrInvalidFormat)
	assert.Empty(t, result.Reports)
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := (&Runner{}).Run(ctx, nil)
	require.ErrorIs(t, result.Err, context.Canceled)
	failed, ok := result.Failed()
	require.True(t, ok)
	assert.Equal(t, Base, failed)
}

type observerFunc struct {
	started   []Name
	completed []Name
}

func (o *observerFunc) PhaseStarted(p Phase) { o.started = append(o.started, p.Name) }

func (o *observerFunc) PhaseCompleted(p Phase, _ time.Duration, _ error) {
	o.completed = append(o.completed, p.Name)
}

func TestRunner_Observer(t *testing.T) {
	observer := &observerFunc{}
	result := (&Runner{Observer: observer}).Run(context.Background(), nil)

	require.NoError(t, result.Err)
	assert.Equal(t, Names(), observer.started)
	assert.Equal(t, Names(), observer.completed)
}
