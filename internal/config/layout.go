package config

import (
	"path"

	"github.com/jeanhaley32/claude-habitat/internal/constants"
)

// Layout decides where habitat infrastructure lives relative to the
// workspace root inside the container.
type Layout interface {
	// HabitatRoot returns the directory holding system, shared and local.
	HabitatRoot(workspace string) string

	// Bypass reports whether this is the flat layout.
	Bypass() bool
}

// NestedLayout keeps infrastructure under {workspace}/habitat.
type NestedLayout struct{}

// HabitatRoot implements Layout.
func (NestedLayout) HabitatRoot(workspace string) string {
	return path.Join(workspace, constants.HabitatDirName)
}

// Bypass implements Layout.
func (NestedLayout) Bypass() bool { return false }

// BypassLayout collapses infrastructure into the workspace root. Used by
// habitats that manage their own structure.
type BypassLayout struct{}

// HabitatRoot implements Layout.
func (BypassLayout) HabitatRoot(workspace string) string {
	return path.Clean(workspace)
}

// Bypass implements Layout.
func (BypassLayout) Bypass() bool { return true }

// NewLayout selects the layout for the bypass flag.
func NewLayout(bypass bool) Layout {
	if bypass {
		return BypassLayout{}
	}
	return NestedLayout{}
}

// Paths are the resolved infrastructure locations inside the container.
type Paths struct {
	Workspace string
	Habitat   string
	System    string
	Shared    string
	Local     string
}

// ResolvePaths computes infrastructure paths for workspace in either
// layout.
func ResolvePaths(workspace string, bypass bool) Paths {
	layout := NewLayout(bypass)
	root := layout.HabitatRoot(workspace)
	return Paths{
		Workspace: workspace,
		Habitat:   root,
		System:    path.Join(root, constants.SystemDir),
		Shared:    path.Join(root, constants.SharedDir),
		Local:     path.Join(root, constants.LocalDir),
	}
}

// Directories returns every infrastructure directory to create, in
// creation order.
func (p Paths) Directories() []string {
	dirs := make([]string, 0, len(HabitatStructure)+1)
	dirs = append(dirs, p.Habitat)
	for _, sub := range HabitatStructure {
		dirs = append(dirs, path.Join(p.Habitat, sub))
	}
	return dirs
}
