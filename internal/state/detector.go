// Package state answers where things stand between runs: which habitat
// config was used last, which config to use now, and whether a habitat's
// images and session container exist.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
	"github.com/jeanhaley32/claude-habitat/internal/image"
	"github.com/jeanhaley32/claude-habitat/internal/session"
)

// Timeout for state detection commands
const stateCheckTimeout = 10 * time.Second

// HabitatState represents the current state of one habitat.
type HabitatState struct {
	Name             string
	ConfigPath       string
	CacheHash        string
	BaseImage        string
	BaseExists       bool
	PreparedImage    string
	PreparedExists   bool
	ContainerName    string
	ContainerRunning bool
}

// Detector checks the state of a habitat.
type Detector struct {
	engine      docker.Engine
	images      *image.Manager
	workspaceID string
}

// NewDetector creates a new state detector.
func NewDetector(engine docker.Engine, workspaceID string) *Detector {
	return &Detector{
		engine:      engine,
		images:      image.NewManager(engine),
		workspaceID: workspaceID,
	}
}

// Detect checks all aspects of the habitat state.
func (d *Detector) Detect(ctx context.Context, cfg *config.Config, extraRepos []string) (*HabitatState, error) {
	ctx, cancel := context.WithTimeout(ctx, stateCheckTimeout)
	defer cancel()

	prepared, err := d.images.PreparedImage(cfg, extraRepos)
	if err != nil {
		return nil, err
	}
	base := image.BaseImage(cfg)

	state := &HabitatState{
		Name:          cfg.Name,
		ConfigPath:    cfg.Path,
		CacheHash:     prepared.CacheHash,
		BaseImage:     base.Tag,
		PreparedImage: prepared.Tag,
		ContainerName: session.NewHabitat(cfg, d.workspaceID).ContainerName(),
	}

	// Check images
	if state.BaseExists, err = d.engine.ImageExists(ctx, base.Tag); err != nil {
		return nil, fmt.Errorf("checking base image: %w", err)
	}
	if state.PreparedExists, err = d.engine.ImageExists(ctx, prepared.Tag); err != nil {
		return nil, fmt.Errorf("checking prepared image: %w", err)
	}

	// Check container status
	if state.ContainerRunning, err = d.engine.IsRunning(ctx, state.ContainerName); err != nil {
		return nil, fmt.Errorf("checking container: %w", err)
	}

	return state, nil
}

// NeedsBuild reports whether starting the habitat would run the build
// phases.
func (s *HabitatState) NeedsBuild() bool {
	return !s.PreparedExists
}
