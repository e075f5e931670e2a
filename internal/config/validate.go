package config

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jeanhaley32/claude-habitat/internal/duration"
	"github.com/jeanhaley32/claude-habitat/internal/phase"
)

// metaSections are top-level keys that no phase consumes directly.
var metaSections = []string{"name", "description", "timeout", "hooks"}

// ConfigurationError reports an invalid or unloadable configuration.
// Violations lists every problem found, not just the first.
type ConfigurationError struct {
	Path       string
	Violations []string
	Err        error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	switch len(e.Violations) {
	case 0:
	case 1:
		b.WriteString(": ")
		b.WriteString(e.Violations[0])
	default:
		b.WriteString(":")
		for _, violation := range e.Violations {
			b.WriteString("\n  - ")
			b.WriteString(violation)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Validate checks a loaded configuration. Returns a *ConfigurationError
// listing every violation, or nil.
func Validate(cfg *Config) error {
	violations := Violations(cfg)
	if len(violations) == 0 {
		return nil
	}
	return &ConfigurationError{Path: cfg.Path, Violations: violations}
}

// ValidateHabitatConfig is Validate under the name used by the CLI.
func ValidateHabitatConfig(cfg *Config) error {
	return Validate(cfg)
}

// Violations returns a human-readable description of each problem in
// cfg. An empty list means the configuration is valid.
func Violations(cfg *Config) []string {
	if cfg == nil {
		return []string{"configuration is empty"}
	}

	var issues []string

	if strings.TrimSpace(cfg.Name) == "" {
		issues = append(issues, "name is required")
	}

	workDir := cfg.WorkDir()
	switch {
	case strings.TrimSpace(workDir) == "":
		issues = append(issues, "WORKDIR is required (set env WORKDIR or container.work_dir)")
	case !path.IsAbs(workDir):
		issues = append(issues, fmt.Sprintf("WORKDIR must be an absolute path, got %q", workDir))
	}

	if strings.TrimSpace(cfg.User()) == "" {
		issues = append(issues, "USER is required (set env USER or container.user)")
	}

	if delay := cfg.Container.StartupDelay; delay != "" {
		seconds, err := strconv.ParseFloat(delay, 64)
		switch {
		case err != nil:
			issues = append(issues, fmt.Sprintf("container.startup_delay must be a number, got %q", delay))
		case seconds < 0:
			issues = append(issues, fmt.Sprintf("container.startup_delay must not be negative, got %v", seconds))
		}
	}

	for index, repository := range cfg.Repositories {
		prefix := fmt.Sprintf("repositories[%d]", index)
		if repository.URL == "" {
			issues = append(issues, prefix+".url is required")
		}
		switch {
		case repository.Path == "":
			issues = append(issues, prefix+".path is required")
		case !path.IsAbs(repository.Path):
			issues = append(issues, fmt.Sprintf("%s.path must be absolute, got %q", prefix, repository.Path))
		}
		if repository.Access != AccessRead && repository.Access != AccessWrite {
			issues = append(issues, fmt.Sprintf("%s.access must be %q or %q, got %q", prefix, AccessRead, AccessWrite, repository.Access))
		}
	}

	for index, file := range cfg.Files {
		issues = append(issues, validateFile(file, fmt.Sprintf("files[%d]", index))...)
	}

	for index, hook := range cfg.Hooks {
		prefix := fmt.Sprintf("hooks[%d]", index)
		issues = append(issues, validateHookTarget(hook.Before, hook.After, prefix)...)
		if len(hook.Run) == 0 && len(hook.Files) == 0 {
			issues = append(issues, prefix+": must declare run commands or files")
		}
		for fileIndex, file := range hook.Files {
			issues = append(issues, validateFile(file, fmt.Sprintf("%s.files[%d]", prefix, fileIndex))...)
		}
	}

	for index, tool := range cfg.Tools {
		if tool.Name == "" {
			issues = append(issues, fmt.Sprintf("tools[%d].name is required", index))
		}
	}

	issues = append(issues, duration.Validate(cfg.Timeout)...)

	for timeoutKey := range cfg.Timeout {
		if timeoutKey == duration.PerPhaseKey {
			continue
		}
		if _, ok := phase.ByName(timeoutKey); !ok {
			issues = append(issues, fmt.Sprintf("timeout.%s: unknown phase (known: %s)", timeoutKey, knownPhases()))
		}
	}

	issues = append(issues, UnknownSections(cfg.Raw)...)

	return issues
}

func validateFile(file FileSpec, prefix string) []string {
	var issues []string
	if file.Src == "" {
		issues = append(issues, prefix+".src is required")
	}
	if file.Dest == "" {
		issues = append(issues, prefix+".dest is required")
	}
	if file.Mode != "" {
		if _, err := strconv.ParseUint(file.Mode, 8, 32); err != nil {
			issues = append(issues, fmt.Sprintf("%s.mode must be octal, got %q", prefix, file.Mode))
		}
	}
	if file.IsHook() {
		issues = append(issues, validateHookTarget(file.Before, file.After, prefix)...)
	}
	return issues
}

func validateHookTarget(before, after, prefix string) []string {
	if (before == "") == (after == "") {
		return []string{prefix + ": exactly one of before or after is required"}
	}
	target := before
	if target == "" {
		target = after
	}
	if _, ok := phase.ByName(target); !ok {
		return []string{fmt.Sprintf("%s: unknown phase %q (known: %s)", prefix, target, knownPhases())}
	}
	return nil
}

func knownPhases() string {
	names := phase.Names()
	parts := make([]string, len(names))
	for index, name := range names {
		parts[index] = string(name)
	}
	return strings.Join(parts, ", ")
}

// UnknownSections reports top-level keys that neither a phase nor the
// loader recognizes. Keys starting with "_" are internal and ignored.
func UnknownSections(raw map[string]any) []string {
	known := make(map[string]bool)
	for _, section := range phase.KnownSections() {
		known[section] = true
	}
	for _, section := range metaSections {
		known[section] = true
	}
	for alias := range sectionAliases {
		known[alias] = true
	}

	var unknown []string
	for key := range raw {
		if strings.HasPrefix(key, "_") || known[key] {
			continue
		}
		unknown = append(unknown, key)
	}
	sort.Strings(unknown)

	issues := make([]string, 0, len(unknown))
	for _, key := range unknown {
		issues = append(issues, fmt.Sprintf("unrecognized top-level section %q", key))
	}
	return issues
}

// UnresolvedPlaceholders reports every string of the expanded document
// that still holds a placeholder, keyed by its query path. Expansion
// leaves these verbatim; strict validation treats them as errors.
func UnresolvedPlaceholders(cfg *Config) []string {
	var issues []string
	var walk func(value any, path string)
	walk = func(value any, path string) {
		switch typed := value.(type) {
		case map[string]any:
			for key, child := range typed {
				childPath := key
				if path != "" {
					childPath = path + "." + key
				}
				if childPath == "env" {
					continue
				}
				walk(child, childPath)
			}
		case []any:
			for index, child := range typed {
				walk(child, fmt.Sprintf("%s[%d]", path, index))
			}
		case string:
			if _, err := ExpandStrict(typed, cfg.Env); err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", path, err))
			}
		}
	}
	walk(cfg.Document, "")
	sort.Strings(issues)
	return issues
}
