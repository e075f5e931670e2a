// Package phase defines the ordered build phases of a habitat image and
// runs them with their lifecycle hooks under per-phase timeouts.
//
// Phases form a closed set. Each phase reads a fixed list of
// configuration sections; the table is total over all phases and is also
// used to detect unrecognized configuration sections.
package phase

import "fmt"

// Name identifies a build phase.
type Name string

// Build phases in execution order.
const (
	Base    Name = "base"
	Users   Name = "users"
	Env     Name = "env"
	Workdir Name = "workdir"
	Habitat Name = "habitat"
	Files   Name = "files"
	Scripts Name = "scripts"
	Repos   Name = "repos"
	Tools   Name = "tools"
	Verify  Name = "verify"
	Test    Name = "test"
	Final   Name = "final"
)

// Phase is one entry of the build sequence.
type Phase struct {
	ID             int
	Name           Name
	Description    string
	ConfigSections []string
}

func (p Phase) String() string {
	return fmt.Sprintf("%d:%s", p.ID, p.Name)
}

// phases is the build sequence. IDs are dense and start at 1.
var phases = []Phase{
	{1, Base, "Build base image and start build container", []string{"base_image", "image"}},
	{2, Users, "Create container users", []string{"user", "users"}},
	{3, Env, "Export environment variables", []string{"env", "environment"}},
	{4, Workdir, "Create workspace directory", []string{"workdir", "work_dir"}},
	{5, Habitat, "Create habitat infrastructure", []string{"habitat", "bypass_habitat_construction"}},
	{6, Files, "Copy files into the container", []string{"files", "volumes"}},
	{7, Scripts, "Run setup scripts", []string{"scripts", "setup"}},
	{8, Repos, "Clone repositories", []string{"repos", "repositories"}},
	{9, Tools, "Install tools", []string{"tools"}},
	{10, Verify, "Verify required files", []string{"verify-fs"}},
	{11, Test, "Run habitat tests", []string{"tests"}},
	{12, Final, "Configure entry and commit image", []string{"entry", "container", "claude"}},
}

// All returns every phase in execution order.
func All() []Phase {
	result := make([]Phase, len(phases))
	for index, p := range phases {
		p.ConfigSections = append([]string(nil), p.ConfigSections...)
		result[index] = p
	}
	return result
}

// ByID returns the phase with the given id.
func ByID(id int) (Phase, bool) {
	if id < 1 || id > len(phases) {
		return Phase{}, false
	}
	return All()[id-1], true
}

// ByName returns the phase with the given name.
func ByName(name string) (Phase, bool) {
	for _, p := range All() {
		if string(p.Name) == name {
			return p, true
		}
	}
	return Phase{}, false
}

// ConfigSections returns the configuration keys read by the named phase,
// or nil for an unknown phase.
func ConfigSections(name Name) []string {
	p, ok := ByName(string(name))
	if !ok {
		return nil
	}
	return p.ConfigSections
}

// KnownSections returns every configuration key consumed by some phase.
func KnownSections() []string {
	var sections []string
	for _, p := range phases {
		sections = append(sections, p.ConfigSections...)
	}
	return sections
}

// Names returns the phase names in execution order.
func Names() []Name {
	names := make([]Name, len(phases))
	for index, p := range phases {
		names[index] = p.Name
	}
	return names
}
