package image

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jeanhaley32/claude-habitat/internal/cachehash"
	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/credential"
	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
	"github.com/jeanhaley32/claude-habitat/internal/phase"
	"github.com/jeanhaley32/claude-habitat/internal/repo"
)

// DefaultRemoveTimeout bounds best-effort removal of the build container.
const DefaultRemoveTimeout = 10 * time.Second

// PrepareOptions control a Prepare run.
type PrepareOptions struct {
	// Rebuild ignores existing base and prepared images.
	Rebuild bool

	// ExtraRepos are URL:PATH[:BRANCH] overrides cloned in addition to
	// the configured repositories. They are part of the cache hash.
	ExtraRepos []string
}

// Result is the outcome of Prepare.
type Result struct {
	Success     bool
	FailedPhase phase.Name
	Err         error
	CacheHit    bool
	ImageTag    string
	BaseTag     string
	CacheHash   string
	Phases      []phase.Report
}

// Manager builds base and prepared images.
type Manager struct {
	Engine docker.Engine

	// Access checks repositories before cloning. Nil skips the check.
	Access repo.Access

	// Credentials supply tokens for cloning. Nil clones anonymously.
	Credentials credential.Provider

	// Observer receives phase progress.
	Observer phase.Observer

	// Out receives verification output. Nil discards it.
	Out io.Writer

	// RemoveTimeout bounds build container cleanup.
	RemoveTimeout time.Duration
}

// NewManager creates a manager for engine.
func NewManager(engine docker.Engine) *Manager {
	return &Manager{Engine: engine, RemoveTimeout: DefaultRemoveTimeout}
}

// GenerateCacheHash computes the cache hash of cfg with extraRepos.
func (m *Manager) GenerateCacheHash(cfg *config.Config, extraRepos []string) (string, error) {
	if cfg == nil || cfg.Raw == nil {
		return "", cachehash.ErrInvalidConfig
	}
	return cachehash.Calculate(cfg.Raw, extraRepos)
}

// PreparedImage returns the prepared image cfg would produce.
func (m *Manager) PreparedImage(cfg *config.Config, extraRepos []string) (Image, error) {
	hash, err := m.GenerateCacheHash(cfg, extraRepos)
	if err != nil {
		return Image{}, err
	}
	return Prepared(BaseImage(cfg), hash), nil
}

// Prepare makes sure the prepared image for cfg exists. When it already
// does and opts.Rebuild is false, no phase runs. Otherwise every phase
// runs in a transient container started from the base image, which is
// committed as the prepared image at the end of the final phase. A
// failed run never commits.
//
// Concurrent runs for the same hash are not coordinated; the last commit
// wins.
func (m *Manager) Prepare(ctx context.Context, cfg *config.Config, opts PrepareOptions) Result {
	logger := ctxlog.FromContext(ctx)
	base := BaseImage(cfg)
	result := Result{BaseTag: base.Tag}

	hash, err := m.GenerateCacheHash(cfg, opts.ExtraRepos)
	if err != nil {
		result.Err = err
		return result
	}
	prepared := Prepared(base, hash)
	result.CacheHash = hash
	result.ImageTag = prepared.Tag

	extras := make([]config.Repository, 0, len(opts.ExtraRepos))
	for _, spec := range opts.ExtraRepos {
		repository, err := ParseRepoSpec(spec)
		if err != nil {
			result.Err = err
			return result
		}
		extras = append(extras, repository)
	}

	if !opts.Rebuild {
		exists, err := m.Engine.ImageExists(ctx, prepared.Tag)
		if err != nil {
			result.Err = fmt.Errorf("checking prepared image %s: %w", prepared.Tag, err)
			return result
		}
		if exists {
			logger.Info("using cached prepared image", "image", prepared.Tag, "hash", hash)
			result.Success = true
			result.CacheHit = true
			return result
		}
	}

	logger.Info("building prepared image", "image", prepared.Tag, "base", base.Tag, "rebuild", opts.Rebuild)

	b := &build{
		manager:  m,
		cfg:      cfg,
		base:     base,
		prepared: prepared,
		repos:    append(append([]config.Repository(nil), cfg.Repositories...), extras...),
		rebuild:  opts.Rebuild,
		name:     fmt.Sprintf("%s-%s-build-%s", constants.ContainerPrefix, repo.SanitizeName(cfg.Name), uuid.NewString()[:8]),
	}
	defer b.cleanup(ctx)

	hooks, err := b.hooks()
	if err != nil {
		result.Err = err
		return result
	}

	runner := &phase.Runner{Timeouts: cfg.Timeout, Hooks: hooks, Observer: m.Observer}
	run := runner.Run(ctx, b.actions())
	result.Phases = run.Reports
	if run.Err != nil {
		result.Err = run.Err
		result.FailedPhase, _ = run.Failed()
		return result
	}
	if !b.committed {
		result.Err = fmt.Errorf("build finished without committing %s", prepared.Tag)
		return result
	}

	logger.Info("prepared image ready", "image", prepared.Tag)
	result.Success = true
	return result
}
