// Package verify checks that required files exist inside a habitat
// container.
//
// Output is line oriented so scripts can parse it:
//
//	SCOPE habitat
//	PASS /workspace/app/package.json
//	FAIL /root/.ssh/config
//	ERROR /root/.profile: container is not running
//	RESULT 1/3
//
// A scope without required files prints "NOTHING nothing to verify for
// <scope>" and succeeds. Every file is checked even after a failure,
// including one the engine could not check.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
)

// Check is the result for one path.
type Check struct {
	Path   string
	Passed bool

	// Err is set when the engine could not check the path.
	Err error
}

// Report summarizes one scope.
type Report struct {
	Scope  config.Scope
	Checks []Check
}

// Passed returns the number of files found.
func (r Report) Passed() int {
	passed := 0
	for _, check := range r.Checks {
		if check.Passed {
			passed++
		}
	}
	return passed
}

// Total returns the number of files checked.
func (r Report) Total() int {
	return len(r.Checks)
}

// NothingToVerify reports whether the scope had no required files.
func (r Report) NothingToVerify() bool {
	return len(r.Checks) == 0
}

// Missing returns the paths that were not found, in check order.
func (r Report) Missing() []string {
	var missing []string
	for _, check := range r.Checks {
		if !check.Passed && check.Err == nil {
			missing = append(missing, check.Path)
		}
	}
	return missing
}

// Unverified returns the paths the engine failed to check.
func (r Report) Unverified() []string {
	var paths []string
	for _, check := range r.Checks {
		if check.Err != nil {
			paths = append(paths, check.Path)
		}
	}
	return paths
}

func (r Report) engineErrors() []error {
	var errs []error
	for _, check := range r.Checks {
		if check.Err != nil {
			errs = append(errs, check.Err)
		}
	}
	return errs
}

// FilesystemError lists every required file that is missing or could not
// be checked. Err joins the engine errors, if any.
type FilesystemError struct {
	Container  string
	Scopes     []config.Scope
	Missing    []string
	Unverified []string
	Err        error
}

func (e *FilesystemError) Error() string {
	scopes := make([]string, len(e.Scopes))
	for index, scope := range e.Scopes {
		scopes[index] = string(scope)
	}
	msg := fmt.Sprintf("filesystem verification failed (%s): %d missing", strings.Join(scopes, ", "), len(e.Missing))
	if len(e.Missing) > 0 {
		msg += ": " + strings.Join(e.Missing, ", ")
	}
	if len(e.Unverified) > 0 {
		msg += fmt.Sprintf("; %d unverified: %s", len(e.Unverified), strings.Join(e.Unverified, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Scopes expands scope into the layers to check. In bypass mode "all"
// means the habitat layer only.
func Scopes(scope config.Scope, bypass bool) ([]config.Scope, error) {
	switch scope {
	case config.ScopeSystem, config.ScopeShared, config.ScopeHabitat:
		return []config.Scope{scope}, nil
	case config.ScopeAll, "":
		if bypass {
			return []config.Scope{config.ScopeHabitat}, nil
		}
		return []config.Scope{config.ScopeSystem, config.ScopeShared, config.ScopeHabitat}, nil
	default:
		return nil, fmt.Errorf("unknown verification scope %q (want system, shared, habitat or all)", scope)
	}
}

// Verifier runs existence checks through a container engine.
type Verifier struct {
	Engine docker.Engine

	// Env and User drive placeholder and ~ expansion of paths.
	Env  config.Lookup
	User string

	// Out receives the line-oriented report. Nil discards it.
	Out io.Writer
}

// NewVerifier returns a Verifier that expands paths with cfg's
// environment and user.
func NewVerifier(engine docker.Engine, cfg *config.Config, out io.Writer) *Verifier {
	v := &Verifier{Engine: engine, User: cfg.User(), Out: out}
	if cfg.Env != nil {
		v.Env = cfg.Env
	}
	return v
}

// Run checks files in container for a single scope. It returns a
// *FilesystemError when any file is missing or could not be checked.
func (v *Verifier) Run(ctx context.Context, container string, scope config.Scope, files []string) (Report, error) {
	report := Report{Scope: scope}
	out := v.Out
	if out == nil {
		out = io.Discard
	}

	if len(files) == 0 {
		fmt.Fprintf(out, "NOTHING nothing to verify for %s\n", scope)
		return report, nil
	}

	for _, file := range files {
		path := v.expand(file)
		found, err := v.exists(ctx, container, path)
		report.Checks = append(report.Checks, Check{Path: path, Passed: found, Err: err})
		switch {
		case err != nil:
			fmt.Fprintf(out, "ERROR %s: %v\n", path, err)
		case found:
			fmt.Fprintf(out, "PASS %s\n", path)
		default:
			fmt.Fprintf(out, "FAIL %s\n", path)
		}
	}
	fmt.Fprintf(out, "RESULT %d/%d\n", report.Passed(), report.Total())

	ctxlog.FromContext(ctx).Debug("verification finished", "scope", scope, "passed", report.Passed(), "total", report.Total())

	missing, unverified := report.Missing(), report.Unverified()
	if len(missing) > 0 || len(unverified) > 0 {
		return report, &FilesystemError{
			Container:  container,
			Scopes:     []config.Scope{scope},
			Missing:    missing,
			Unverified: unverified,
			Err:        errors.Join(report.engineErrors()...),
		}
	}
	return report, nil
}

// VerifyConfig checks the required files of every layer selected by
// scope. All selected scopes are checked before the combined
// *FilesystemError is returned.
func (v *Verifier) VerifyConfig(ctx context.Context, container string, cfg *config.Config, scope config.Scope) ([]Report, error) {
	scopes, err := Scopes(scope, cfg.Bypass)
	if err != nil {
		return nil, err
	}
	out := v.Out
	if out == nil {
		out = io.Discard
	}

	var (
		reports    []Report
		missing    []string
		unverified []string
		engineErrs []error
	)
	for _, layerScope := range scopes {
		fmt.Fprintf(out, "SCOPE %s\n", layerScope)
		report, _ := v.Run(ctx, container, layerScope, cfg.RequiredFiles(layerScope))
		reports = append(reports, report)
		missing = append(missing, report.Missing()...)
		unverified = append(unverified, report.Unverified()...)
		engineErrs = append(engineErrs, report.engineErrors()...)
	}

	if len(missing) > 0 || len(unverified) > 0 {
		return reports, &FilesystemError{
			Container:  container,
			Scopes:     scopes,
			Missing:    missing,
			Unverified: unverified,
			Err:        errors.Join(engineErrs...),
		}
	}
	return reports, nil
}

func (v *Verifier) expand(path string) string {
	vars := v.Env
	if vars == nil {
		vars = config.MapLookup{}
	}
	return config.ExpandPath(path, vars, v.User)
}

func (v *Verifier) exists(ctx context.Context, container, path string) (bool, error) {
	result, err := v.Engine.Exec(ctx, container, docker.ExecSpec{Command: []string{"test", "-e", path}})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}
