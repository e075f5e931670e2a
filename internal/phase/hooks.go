package phase

import (
	"context"
	"fmt"
)

// Timing places a hook before or after a phase's default action.
type Timing string

const (
	Before Timing = "before"
	After  Timing = "after"
)

// Action is a unit of work run by the orchestrator. Run must honor ctx
// cancellation; a phase timeout cancels it.
type Action struct {
	// Name describes the action in logs and errors.
	Name string

	// Subaction groups hooks by kind, e.g. "files" or "scripts".
	Subaction string

	Run func(ctx context.Context) error
}

// HookKey renders the canonical "<timing>:<phase>-<subaction>" key.
func HookKey(timing Timing, phase Name, subaction string) string {
	if subaction == "" {
		return fmt.Sprintf("%s:%s", timing, phase)
	}
	return fmt.Sprintf("%s:%s-%s", timing, phase, subaction)
}

type hookEntry struct {
	timing Timing
	phase  Name
	action Action
}

// Registry maps (phase, timing) to hooks in declaration order.
type Registry struct {
	entries []hookEntry
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a hook. Unknown phases are rejected.
func (r *Registry) Register(timing Timing, phase Name, action Action) error {
	if timing != Before && timing != After {
		return fmt.Errorf("invalid hook timing %q", timing)
	}
	if _, ok := ByName(string(phase)); !ok {
		return fmt.Errorf("cannot register hook for unknown phase %q", phase)
	}
	if action.Run == nil {
		return fmt.Errorf("hook %s has no action", HookKey(timing, phase, action.Subaction))
	}
	r.entries = append(r.entries, hookEntry{timing: timing, phase: phase, action: action})
	return nil
}

// Before returns the before-hooks of phase in declaration order.
func (r *Registry) Before(phase Name) []Action {
	return r.collect(Before, phase)
}

// After returns the after-hooks of phase in reverse declaration order,
// so teardown mirrors setup.
func (r *Registry) After(phase Name) []Action {
	actions := r.collect(After, phase)
	for left, right := 0, len(actions)-1; left < right; left, right = left+1, right-1 {
		actions[left], actions[right] = actions[right], actions[left]
	}
	return actions
}

// Keys returns the hook key of every registered hook in declaration
// order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		keys = append(keys, HookKey(entry.timing, entry.phase, entry.action.Subaction))
	}
	return keys
}

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

func (r *Registry) collect(timing Timing, phase Name) []Action {
	if r == nil {
		return nil
	}
	var actions []Action
	for _, entry := range r.entries {
		if entry.timing == timing && entry.phase == phase {
			actions = append(actions, entry.action)
		}
	}
	return actions
}
