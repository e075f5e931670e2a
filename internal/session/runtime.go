package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
)

// DefaultStopTimeout bounds container removal when a session stops.
const DefaultStopTimeout = 10 * time.Second

// ErrNotRunning is returned when the session container exited during
// startup.
var ErrNotRunning = errors.New("container is not running")

// Runtime starts, attaches to and stops habitat sessions.
type Runtime struct {
	Engine docker.Engine

	// Attacher hands the terminal to the session. Nil disables Attach.
	Attacher docker.Attacher

	// StopTimeout bounds container removal.
	StopTimeout time.Duration

	now func() time.Time
}

// NewRuntime returns a runtime for engine. When engine can attach, it is
// also used as the Attacher.
func NewRuntime(engine docker.Engine) *Runtime {
	r := &Runtime{Engine: engine, StopTimeout: DefaultStopTimeout}
	if attacher, ok := engine.(docker.Attacher); ok {
		r.Attacher = attacher
	}
	return r
}

func (r *Runtime) clock() func() time.Time {
	if r.now != nil {
		return r.now
	}
	return time.Now
}

// Start runs imageTag as the habitat's session container. It removes a
// stale container of the same name, waits container.startup_delay,
// confirms the container is still running, and runs entry.init_command.
// On success the session is active. On failure the container is removed
// and the returned session, if any, is completed.
func (r *Runtime) Start(ctx context.Context, habitat *Habitat, imageTag string) (*Session, error) {
	logger := ctxlog.FromContext(ctx)
	cfg := habitat.Config
	s := newSession(habitat, imageTag, r.clock())

	mounts, err := ParseVolumes(cfg.Volumes)
	if err != nil {
		return nil, err
	}

	name := habitat.ContainerName()
	if err := r.Engine.Remove(ctx, name); err != nil {
		logger.Debug("no stale container removed", "container", name, "error", err)
	}

	id, err := r.Engine.Run(ctx, docker.RunSpec{
		Image:   imageTag,
		Name:    name,
		User:    cfg.User(),
		WorkDir: cfg.WorkDir(),
		Env:     cfg.Env.List(),
		Labels: map[string]string{
			constants.LabelHabitat: cfg.Name,
			constants.LabelSession: s.ID,
		},
		Mounts:     mounts,
		Entrypoint: "tail",
		Command:    []string{"-f", "/dev/null"}, // Keep container running
	})
	if err != nil {
		_ = s.Complete()
		return s, fmt.Errorf("starting session container: %w", err)
	}
	s.ContainerID = id
	logger.Info("session container started", "session", s.ID, "container", name, "image", imageTag)

	if err := r.initialize(ctx, s); err != nil {
		if stopErr := r.Stop(ctx, s); stopErr != nil {
			logger.Warn("failed to clean up session container", "container", id, "error", stopErr)
		}
		return s, err
	}

	if err := s.Activate(); err != nil {
		return s, err
	}
	return s, nil
}

func (r *Runtime) initialize(ctx context.Context, s *Session) error {
	cfg := s.Habitat.Config

	if delay := cfg.Container.StartupDelayDuration(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	running, err := r.Engine.IsRunning(ctx, s.ContainerID)
	if err != nil {
		return fmt.Errorf("checking session container: %w", err)
	}
	if !running {
		return &docker.ContainerError{Op: "run", Container: s.ContainerID, Err: ErrNotRunning}
	}

	if init := strings.TrimSpace(cfg.Entry.InitCommand); init != "" {
		ctxlog.FromContext(ctx).Info("running init command", "session", s.ID)
		if _, err := docker.Check(ctx, r.Engine, s.ContainerID, docker.ExecSpec{
			Command: docker.Shell(init),
			User:    cfg.User(),
			WorkDir: cfg.WorkDir(),
			Env:     cfg.Env.List(),
		}); err != nil {
			return fmt.Errorf("init command: %w", err)
		}
	}
	return nil
}

// AttachCommand returns the command run by Attach: the claude command
// with its arguments, or nil for the attacher's default shell.
func AttachCommand(cfg *config.Config) []string {
	if cfg.Claude.Command == "" {
		return nil
	}
	return append([]string{cfg.Claude.Command}, cfg.Claude.Args...)
}

// Attach hands the terminal to the session until the attached process
// exits. shell forces an interactive shell instead of the claude command.
func (r *Runtime) Attach(s *Session, shell bool) error {
	if r.Attacher == nil {
		return errors.New("attach is not supported by this engine")
	}
	if status := s.Status(); status != StatusActive {
		return fmt.Errorf("cannot attach to %s session %s", status, s.ID)
	}

	cfg := s.Habitat.Config
	spec := docker.ExecSpec{
		User:    cfg.User(),
		WorkDir: cfg.WorkDir(),
		Env:     cfg.Env.List(),
	}
	if !shell {
		spec.Command = AttachCommand(cfg)
	}
	return r.Attacher.Attach(s.ContainerID, spec)
}

// Stop removes the session container and completes the session. Removal
// is best effort and bounded by StopTimeout even when ctx is done; its
// error is returned after the session is completed.
func (r *Runtime) Stop(ctx context.Context, s *Session) error {
	var removeErr error
	if s.ContainerID != "" {
		timeout := r.StopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		removeErr = r.Engine.Remove(removeCtx, s.ContainerID)
		cancel()
	}

	if err := s.Complete(); err != nil {
		return errors.Join(removeErr, err)
	}
	if removeErr != nil {
		return fmt.Errorf("removing session container: %w", removeErr)
	}
	ctxlog.FromContext(ctx).Info("session stopped", "session", s.ID, "duration", s.Duration().Round(time.Second))
	return nil
}

// StopByName removes the session container of habitat without a
// Session, for stopping a session started by another process.
func (r *Runtime) StopByName(ctx context.Context, habitat *Habitat) (string, error) {
	name := habitat.ContainerName()
	running, err := r.Engine.IsRunning(ctx, name)
	if err != nil {
		return name, err
	}
	if !running {
		return name, nil
	}
	timeout := r.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return name, r.Engine.Remove(removeCtx, name)
}

// ParseVolumes parses docker-style "SRC:DEST[:ro|rw]" volume entries.
func ParseVolumes(volumes []string) ([]docker.Mount, error) {
	mounts := make([]docker.Mount, 0, len(volumes))
	for _, volume := range volumes {
		parts := strings.Split(volume, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || !strings.HasPrefix(parts[1], "/") {
			return nil, fmt.Errorf("volume %q: expected SRC:DEST[:ro]", volume)
		}
		mount := docker.Mount{Source: parts[0], Target: parts[1]}
		if len(parts) == 3 {
			switch parts[2] {
			case "ro":
				mount.ReadOnly = true
			case "rw":
			default:
				return nil, fmt.Errorf("volume %q: unknown mode %q", volume, parts[2])
			}
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}
