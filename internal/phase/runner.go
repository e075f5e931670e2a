package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
	"github.com/jeanhaley32/claude-habitat/internal/duration"
)

// abandonGrace bounds how long a timed-out phase may take to notice
// cancellation before the runner stops waiting for it.
const abandonGrace = 2 * time.Second

// Observer receives lifecycle callbacks for each phase.
type Observer interface {
	PhaseStarted(p Phase)
	PhaseCompleted(p Phase, elapsed time.Duration, err error)
}

// Report records how one phase went.
type Report struct {
	Phase   Phase
	Elapsed time.Duration
	Hooks   int
	Err     error
}

// Result is the outcome of a run. Reports contains one entry per phase
// that started; phases after a failure are absent.
type Result struct {
	Reports []Report
	Err     error
}

// Failed returns the phase that failed, if any.
func (r Result) Failed() (Name, bool) {
	var phaseErr *Error
	if errors.As(r.Err, &phaseErr) {
		return phaseErr.Phase, true
	}
	return "", false
}

// Ran reports whether the named phase started.
func (r Result) Ran(name Name) bool {
	for _, report := range r.Reports {
		if report.Phase.Name == name {
			return true
		}
	}
	return false
}

// Runner executes the phase sequence. Phases run strictly one after
// another; within a phase, before-hooks run in declaration order, then
// the default action, then after-hooks in reverse declaration order.
// Nothing runs concurrently and nothing is retried.
type Runner struct {
	Timeouts duration.Config
	Hooks    *Registry
	Observer Observer
}

// Run executes every phase. defaults maps a phase to its default action;
// phases without one still run their hooks. The first failure stops the
// run and is returned as a *Error (wrapping a *TimeoutError when the
// phase ran out of time). Side effects of completed work are not rolled
// back.
func (r *Runner) Run(ctx context.Context, defaults map[Name]Action) Result {
	logger := ctxlog.FromContext(ctx)
	var result Result

	for _, p := range All() {
		if err := ctx.Err(); err != nil {
			result.Err = &Error{Phase: p.Name, Cause: err}
			return result
		}

		timeout, err := duration.PhaseTimeout(r.Timeouts, string(p.Name))
		if err != nil {
			result.Err = &Error{Phase: p.Name, Cause: err}
			return result
		}

		if r.Observer != nil {
			r.Observer.PhaseStarted(p)
		}
		logger.Debug("phase started", "phase", p.Name, "id", p.ID, "timeout", duration.Format(timeout))

		start := time.Now()
		hooks, err := r.runTimed(ctx, p, defaults[p.Name], timeout)
		elapsed := time.Since(start)

		report := Report{Phase: p, Elapsed: elapsed, Hooks: hooks, Err: err}
		result.Reports = append(result.Reports, report)

		if r.Observer != nil {
			r.Observer.PhaseCompleted(p, elapsed, err)
		}
		if err != nil {
			logger.Error("phase failed", "phase", p.Name, "elapsed", duration.Format(elapsed), "error", err)
			result.Err = err
			return result
		}
		logger.Debug("phase completed", "phase", p.Name, "elapsed", duration.Format(elapsed))
	}

	return result
}

// runTimed runs one phase under its timeout. It returns the number of
// hooks run and the phase error, if any.
func (r *Runner) runTimed(ctx context.Context, p Phase, action Action, timeout time.Duration) (int, error) {
	start := time.Now()
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		hooks int
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		hooks, err := r.runPhase(phaseCtx, p, action)
		done <- outcome{hooks: hooks, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(phaseCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return out.hooks, &Error{Phase: p.Name, Cause: &TimeoutError{Phase: p.Name, Timeout: timeout, Elapsed: time.Since(start)}}
		}
		return out.hooks, out.err
	case <-phaseCtx.Done():
		elapsed := time.Since(start)
		cancel()

		// Prefer a result that landed at the same moment.
		select {
		case out := <-done:
			if out.err == nil {
				return out.hooks, nil
			}
		case <-time.After(abandonGrace):
			ctxlog.FromContext(ctx).Warn("phase did not stop after cancellation", "phase", p.Name)
		}

		if parentErr := ctx.Err(); parentErr != nil {
			return 0, &Error{Phase: p.Name, Cause: parentErr}
		}
		return 0, &Error{Phase: p.Name, Cause: &TimeoutError{Phase: p.Name, Timeout: timeout, Elapsed: elapsed}}
	}
}

// runPhase runs hooks and the default action of one phase in order.
func (r *Runner) runPhase(ctx context.Context, p Phase, action Action) (int, error) {
	hooks := 0

	for _, hook := range r.Hooks.Before(p.Name) {
		hooks++
		if err := hook.Run(ctx); err != nil {
			return hooks, &Error{Phase: p.Name, Step: describeHook(Before, p.Name, hook), Cause: err}
		}
	}

	if action.Run != nil {
		if err := action.Run(ctx); err != nil {
			var phaseErr *Error
			if errors.As(err, &phaseErr) {
				return hooks, err
			}
			return hooks, &Error{Phase: p.Name, Cause: err}
		}
	}

	for _, hook := range r.Hooks.After(p.Name) {
		hooks++
		if err := hook.Run(ctx); err != nil {
			return hooks, &Error{Phase: p.Name, Step: describeHook(After, p.Name, hook), Cause: err}
		}
	}

	return hooks, nil
}

func describeHook(timing Timing, p Name, hook Action) string {
	key := HookKey(timing, p, hook.Subaction)
	if hook.Name == "" {
		return key
	}
	return fmt.Sprintf("%s (%s)", key, hook.Name)
}
