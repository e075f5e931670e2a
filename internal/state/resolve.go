package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeanhaley32/claude-habitat/internal/constants"
)

// ConfigNotFoundError lists every location checked for a configuration.
type ConfigNotFoundError struct {
	Checked []string
}

func (e *ConfigNotFoundError) Error() string {
	var b strings.Builder
	b.WriteString("habitat config not found at:")
	for _, path := range e.Checked {
		fmt.Fprintf(&b, "\n  - %s", path)
	}
	b.WriteString("\nPass a config path or habitat name, or run from a habitat directory")
	return b.String()
}

// Resolver finds the habitat configuration to use.
type Resolver struct {
	// Root is the project root holding habitats/.
	Root string

	// Store supplies the last used configuration. Nil skips it.
	Store Store
}

// Resolve applies the config resolution priority rules.
// Priority:
// 1. Explicit argument: a path to a file, or a habitat name looked up
// as {root}/habitats/{name}/config.yaml
// 2. Local config ({cwd}/config.yaml) - if exists, use it
// 3. Last used config - if it still exists
func (r *Resolver) Resolve(arg, cwd string) (string, error) {
	var checked []string
	exists := func(path string) bool {
		checked = append(checked, path)
		info, err := os.Stat(path)
		return err == nil && !info.IsDir()
	}

	// Priority 1: Explicit argument
	if arg != "" {
		if exists(arg) {
			return filepath.Abs(arg)
		}
		if !strings.ContainsAny(arg, `/\`) && r.Root != "" {
			named := filepath.Join(r.Root, constants.HabitatsDir, arg, constants.ConfigFileName)
			if exists(named) {
				return named, nil
			}
		}
		return "", &ConfigNotFoundError{Checked: checked}
	}

	// Priority 2: Local config
	if local := filepath.Join(cwd, constants.ConfigFileName); exists(local) {
		return local, nil
	}

	// Priority 3: Last used config
	if r.Store != nil {
		record, err := r.Store.LastUsed()
		switch {
		case err == nil:
			if exists(record.ConfigPath) {
				return record.ConfigPath, nil
			}
		case !errors.Is(err, ErrNoRecord):
			return "", err
		}
	}

	return "", &ConfigNotFoundError{Checked: checked}
}

// ListHabitats returns the habitat names under {root}/habitats that have
// a config file, sorted by name.
func ListHabitats(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, constants.HabitatsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, constants.HabitatsDir, entry.Name(), constants.ConfigFileName)); err == nil {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
