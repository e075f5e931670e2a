// Package session runs a prepared habitat image as a live container and
// tracks the lifetime of that container as a session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/repo"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusInitializing:
		return 0
	case StatusActive:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// ErrInvalidTransition is returned when a status change would move a
// session backwards or repeat a state.
var ErrInvalidTransition = errors.New("invalid session status transition")

// Habitat pairs a configuration with the workspace it runs for.
type Habitat struct {
	Config *config.Config

	// WorkspaceID identifies the host workspace, see repo.Identifier.
	// Empty means the container is named after the habitat alone.
	WorkspaceID string
}

// NewHabitat returns the habitat view of cfg.
func NewHabitat(cfg *config.Config, workspaceID string) *Habitat {
	return &Habitat{Config: cfg, WorkspaceID: workspaceID}
}

// Name returns the habitat name.
func (h *Habitat) Name() string { return h.Config.Name }

// WorkspacePath returns the workspace directory inside the container.
func (h *Habitat) WorkspacePath() string { return h.Config.WorkDir() }

// DevelopmentRepos returns the repositories cloned with write access.
func (h *Habitat) DevelopmentRepos() []config.Repository {
	return h.Config.DevelopmentRepositories()
}

// DependencyRepos returns the read-only repositories.
func (h *Habitat) DependencyRepos() []config.Repository {
	return h.Config.DependencyRepositories()
}

// ContainerName returns the session container name for this habitat:
// habitat-<name>-<workspace id>, or habitat-<name> without a workspace
// id. Start, stop and status all derive the same name.
func (h *Habitat) ContainerName() string {
	name := fmt.Sprintf("%s-%s", constants.ContainerPrefix, repo.SanitizeName(h.Name()))
	if h.WorkspaceID != "" {
		name += "-" + repo.SanitizeName(h.WorkspaceID)
	}
	return name
}

// Session is one live container of a habitat. Status only moves forward:
// initializing, active, completed. A session that fails to start goes
// straight from initializing to completed.
type Session struct {
	ID          string
	Habitat     *Habitat
	ImageTag    string
	ContainerID string
	StartTime   time.Time

	mu          sync.Mutex
	status      Status
	activatedAt time.Time
	completedAt time.Time
	now         func() time.Time
}

// New creates an initializing session for habitat running imageTag.
func New(habitat *Habitat, imageTag string) *Session {
	return newSession(habitat, imageTag, time.Now)
}

func newSession(habitat *Habitat, imageTag string, now func() time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Habitat:   habitat,
		ImageTag:  imageTag,
		StartTime: now(),
		status:    StatusInitializing,
		now:       now,
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ActivatedAt returns when the session became active, or the zero time.
func (s *Session) ActivatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activatedAt
}

// CompletedAt returns when the session completed, or the zero time.
func (s *Session) CompletedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt
}

// Activate marks the session active.
func (s *Session) Activate() error {
	return s.transition(StatusActive)
}

// Complete marks the session completed.
func (s *Session) Complete() error {
	return s.transition(StatusCompleted)
}

func (s *Session) transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to.rank() <= s.status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
	}
	s.status = to
	switch to {
	case StatusActive:
		s.activatedAt = s.now()
	case StatusCompleted:
		s.completedAt = s.now()
	}
	return nil
}

// Duration returns how long the session has been, or was, alive.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.completedAt.IsZero() {
		return s.completedAt.Sub(s.StartTime)
	}
	return s.now().Sub(s.StartTime)
}
