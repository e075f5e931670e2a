// Package config loads habitat configuration from the system, shared
// and habitat layers, coalesces their environment variables, expands
// placeholders, and validates the result.
package config

import (
	"strconv"
	"time"

	"github.com/jeanhaley32/claude-habitat/internal/duration"
)

// HabitatStructure defines the directory structure created under the
// habitat root inside the container.
var HabitatStructure = []string{
	"system",       // Infrastructure managed by the system layer
	"system/tools", // Tool binaries installed by the tools phase
	"shared",       // User preferences shared across habitats
	"local",        // Habitat-specific working files
}

// Repository access modes.
const (
	AccessRead  = "read"
	AccessWrite = "write"
)

// DefaultBranch is used when a repository does not declare one.
const DefaultBranch = "main"

// Config is the coalesced configuration of one habitat.
type Config struct {
	Name         string              `mapstructure:"name"`
	Description  string              `mapstructure:"description"`
	BaseImage    string              `mapstructure:"base_image"`
	Image        Image               `mapstructure:"image"`
	Container    Container           `mapstructure:"container"`
	Users        []string            `mapstructure:"users"`
	Repositories []Repository        `mapstructure:"repositories"`
	Files        []FileSpec          `mapstructure:"files"`
	Volumes      []string            `mapstructure:"volumes"`
	Scripts      map[string][]string `mapstructure:"scripts"`
	Hooks        []HookSpec          `mapstructure:"hooks"`
	Tools        []Tool              `mapstructure:"tools"`
	Tests        []string            `mapstructure:"tests"`
	VerifyFS     VerifyFS            `mapstructure:"verify-fs"`
	Timeout      duration.Config     `mapstructure:"timeout"`
	Entry        Entry               `mapstructure:"entry"`
	Claude       Claude              `mapstructure:"claude"`
	Bypass       bool                `mapstructure:"bypass_habitat_construction"`

	// Path is the habitat config file this configuration was loaded from.
	Path string `mapstructure:"-"`

	// Env is the coalesced environment in first-appearance order.
	Env *Env `mapstructure:"-"`

	// Layers records each loaded layer in system, shared, habitat order.
	Layers []Layer `mapstructure:"-"`

	// Raw is the merged document before placeholder expansion. It is the
	// input to the cache hash.
	Raw map[string]any `mapstructure:"-"`

	// Document is the merged document after placeholder expansion.
	Document map[string]any `mapstructure:"-"`
}

// Image describes how the base image is produced.
type Image struct {
	Dockerfile string   `mapstructure:"dockerfile"`
	Tag        string   `mapstructure:"tag"`
	BuildArgs  []string `mapstructure:"build_args"`
}

// Container holds runtime container settings.
type Container struct {
	WorkDir      string `mapstructure:"work_dir"`
	User         string `mapstructure:"user"`
	StartupDelay string `mapstructure:"startup_delay"`
}

// StartupDelayDuration returns startup_delay in seconds as a duration.
// Invalid values yield zero; Validate reports them.
func (c Container) StartupDelayDuration() time.Duration {
	if c.StartupDelay == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(c.StartupDelay, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Repository is a git repository materialized inside the container.
type Repository struct {
	URL     string `mapstructure:"url"`
	Path    string `mapstructure:"path"`
	Branch  string `mapstructure:"branch"`
	Access  string `mapstructure:"access"`
	Shallow *bool  `mapstructure:"shallow"`
}

// IsShallow reports whether the clone should be shallow (default true).
func (r Repository) IsShallow() bool {
	return r.Shallow == nil || *r.Shallow
}

// IsWritable reports whether the repository is a development repository.
func (r Repository) IsWritable() bool {
	return r.Access == AccessWrite
}

// FileSpec is a host-to-container copy operation. Entries with Before or
// After set run as lifecycle hooks of the named phase instead of during
// the files phase.
type FileSpec struct {
	Src         string `mapstructure:"src"`
	Dest        string `mapstructure:"dest"`
	Mode        string `mapstructure:"mode"`
	Owner       string `mapstructure:"owner"`
	Description string `mapstructure:"description"`
	Before      string `mapstructure:"before"`
	After       string `mapstructure:"after"`
}

// IsHook reports whether the file copy is bound to a phase hook.
func (f FileSpec) IsHook() bool {
	return f.Before != "" || f.After != ""
}

// HookSpec declares commands and/or file copies to run around a phase.
// Exactly one of Before or After names the phase.
type HookSpec struct {
	Before      string     `mapstructure:"before"`
	After       string     `mapstructure:"after"`
	User        string     `mapstructure:"user"`
	Run         []string   `mapstructure:"run"`
	Files       []FileSpec `mapstructure:"files"`
	Description string     `mapstructure:"description"`
}

// Tool is installed or checked during the tools phase. A bare string in
// YAML is shorthand for a tool that only needs to be present.
type Tool struct {
	Name    string `mapstructure:"name"`
	Install string `mapstructure:"install"`
	User    string `mapstructure:"user"`
}

// VerifyFS lists files that must exist in the finished container.
type VerifyFS struct {
	RequiredFiles []string `mapstructure:"required_files"`
}

// Entry configures what runs when a session starts.
type Entry struct {
	InitCommand string `mapstructure:"init_command"`
}

// Claude configures the assistant command launched in a session.
type Claude struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// Scope names a configuration layer.
type Scope string

const (
	ScopeSystem  Scope = "system"
	ScopeShared  Scope = "shared"
	ScopeHabitat Scope = "habitat"
	ScopeAll     Scope = "all"
)

// Layer is one loaded configuration file.
type Layer struct {
	Scope Scope
	Path  string
	// Loaded is false for optional layers whose file does not exist.
	Loaded bool
	// RequiredFiles is the layer's own verify-fs list, expanded.
	RequiredFiles []string
}

// WorkDir returns the workspace directory: env WORKDIR, falling back to
// container.work_dir.
func (c *Config) WorkDir() string {
	if c.Env != nil {
		if value, ok := c.Env.Lookup("WORKDIR"); ok && value != "" {
			return value
		}
	}
	return c.Container.WorkDir
}

// User returns the container user: env USER, falling back to
// container.user.
func (c *Config) User() string {
	if c.Env != nil {
		if value, ok := c.Env.Lookup("USER"); ok && value != "" {
			return value
		}
	}
	return c.Container.User
}

// Layer returns the loaded layer for scope, if any.
func (c *Config) Layer(scope Scope) (Layer, bool) {
	for _, layer := range c.Layers {
		if layer.Scope == scope {
			return layer, true
		}
	}
	return Layer{}, false
}

// RequiredFiles returns the verify-fs list for a single layer scope.
func (c *Config) RequiredFiles(scope Scope) []string {
	layer, ok := c.Layer(scope)
	if !ok {
		return nil
	}
	return layer.RequiredFiles
}

// Paths returns the habitat infrastructure paths for this config's
// workspace and layout mode.
func (c *Config) Paths() Paths {
	return ResolvePaths(c.WorkDir(), c.Bypass)
}

// DevelopmentRepositories returns repositories with write access.
func (c *Config) DevelopmentRepositories() []Repository {
	var repos []Repository
	for _, repository := range c.Repositories {
		if repository.IsWritable() {
			repos = append(repos, repository)
		}
	}
	return repos
}

// DependencyRepositories returns read-only repositories.
func (c *Config) DependencyRepositories() []Repository {
	var repos []Repository
	for _, repository := range c.Repositories {
		if !repository.IsWritable() {
			repos = append(repos, repository)
		}
	}
	return repos
}
