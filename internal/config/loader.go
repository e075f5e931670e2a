package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/jeanhaley32/claude-habitat/internal/constants"
)

// LoadOptions locates the optional system and shared layers.
type LoadOptions struct {
	// SystemPath is the system layer config. Empty skips the layer.
	SystemPath string

	// SharedPath is the shared layer config. Empty skips the layer.
	SharedPath string

	// HostHome expands ~ in host-side file sources. Defaults to the
	// current user's home directory.
	HostHome string
}

// DefaultLoadOptions returns the conventional layer locations under a
// habitat project root: {root}/system/config.yaml and
// {root}/shared/config.yaml.
func DefaultLoadOptions(root string) LoadOptions {
	return LoadOptions{
		SystemPath: filepath.Join(root, constants.SystemDir, constants.ConfigFileName),
		SharedPath: filepath.Join(root, constants.SharedDir, constants.ConfigFileName),
	}
}

// InferRoot derives the project root from a habitat config path laid
// out as {root}/habitats/{name}/config.yaml. For any other layout the
// directory containing the config is returned.
func InferRoot(habitatPath string) string {
	habitatDir := filepath.Dir(habitatPath)
	parent := filepath.Dir(habitatDir)
	if filepath.Base(parent) == constants.HabitatsDir {
		return filepath.Dir(parent)
	}
	return habitatDir
}

// ReadDocument reads a YAML file into a generic document.
func ReadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data)
}

// ParseDocument parses YAML bytes into a generic document. An empty
// document yields an empty map.
func ParseDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// Load reads the system, shared and habitat layers, merges them, and
// returns the expanded configuration. Only the habitat layer is
// required. Load does not validate; call Validate on the result.
func Load(habitatPath string, opts LoadOptions) (*Config, error) {
	if opts.HostHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.HostHome = home
		}
	}

	absHabitat, err := filepath.Abs(habitatPath)
	if err != nil {
		return nil, &ConfigurationError{Path: habitatPath, Violations: []string{"invalid path"}, Err: err}
	}

	sources := []struct {
		scope    Scope
		path     string
		required bool
	}{
		{ScopeSystem, opts.SystemPath, false},
		{ScopeShared, opts.SharedPath, false},
		{ScopeHabitat, absHabitat, true},
	}

	var (
		layers    []Layer
		layerDocs []map[string]any
		envLists  [][]string
		merged    = map[string]any{}
		rawMerged = map[string]any{}
	)
	for _, source := range sources {
		layer := Layer{Scope: source.scope, Path: source.path}
		if source.path == "" {
			layers = append(layers, layer)
			layerDocs = append(layerDocs, nil)
			envLists = append(envLists, nil)
			continue
		}

		doc, err := ReadDocument(source.path)
		if err != nil {
			if !source.required && errors.Is(err, os.ErrNotExist) {
				layers = append(layers, layer)
				layerDocs = append(layerDocs, nil)
				envLists = append(envLists, nil)
				continue
			}
			return nil, &ConfigurationError{
				Path:       source.path,
				Violations: []string{fmt.Sprintf("%s config could not be loaded", source.scope)},
				Err:        err,
			}
		}

		doc = normalizeDocument(doc)
		// Raw keeps sources as written so the cache hash does not depend
		// on where the project is checked out.
		rawMerged = mergeDocuments(rawMerged, doc)
		resolveFileSources(doc, filepath.Dir(source.path), opts.HostHome)

		list, err := stringList(doc["env"])
		if err != nil {
			return nil, &ConfigurationError{Path: source.path, Violations: []string{"env: " + err.Error()}}
		}

		layer.Loaded = true
		layers = append(layers, layer)
		layerDocs = append(layerDocs, doc)
		envLists = append(envLists, list)
		merged = mergeDocuments(merged, doc)
	}

	env, err := CoalesceEnv(envLists...)
	if err != nil {
		return nil, &ConfigurationError{Path: absHabitat, Violations: []string{err.Error()}}
	}

	raw := rawMerged
	raw[constants.ConfigPathKey] = absHabitat

	expanded := expandDocument(merged, env, "").(map[string]any)
	cfg, err := decode(expanded)
	if err != nil {
		return nil, &ConfigurationError{Path: absHabitat, Violations: []string{err.Error()}, Err: err}
	}

	cfg.Path = absHabitat
	cfg.Env = env
	cfg.Raw = raw
	cfg.Document = expanded
	cfg.applyDefaults()
	cfg.expandPaths()

	user := cfg.User()
	for index, doc := range layerDocs {
		if doc == nil {
			continue
		}
		files, _ := stringList(nestedValue(doc, "verify-fs", "required_files"))
		for _, file := range files {
			layers[index].RequiredFiles = append(layers[index].RequiredFiles, ExpandPath(file, env, user))
		}
	}
	cfg.Layers = layers

	return cfg, nil
}

// applyDefaults fills repository defaults.
func (c *Config) applyDefaults() {
	for index := range c.Repositories {
		repository := &c.Repositories[index]
		if repository.Branch == "" {
			repository.Branch = DefaultBranch
		}
		if repository.Access == "" {
			repository.Access = AccessWrite
		}
	}
	if c.Scripts == nil {
		c.Scripts = map[string][]string{}
	}
}

// expandPaths applies ~ expansion to container-side path fields using
// the configured container user.
func (c *Config) expandPaths() {
	user := c.User()
	c.Container.WorkDir = ExpandHome(c.Container.WorkDir, user)
	for index := range c.Repositories {
		c.Repositories[index].Path = ExpandHome(c.Repositories[index].Path, user)
	}
	for index := range c.Files {
		c.Files[index].Dest = ExpandHome(c.Files[index].Dest, user)
	}
	for index := range c.Hooks {
		for fileIndex := range c.Hooks[index].Files {
			c.Hooks[index].Files[fileIndex].Dest = ExpandHome(c.Hooks[index].Files[fileIndex].Dest, user)
		}
	}
	for index := range c.VerifyFS.RequiredFiles {
		c.VerifyFS.RequiredFiles[index] = ExpandHome(c.VerifyFS.RequiredFiles[index], user)
	}
	for index := range c.Tests {
		c.Tests[index] = ExpandHome(c.Tests[index], user)
	}
}

// resolveFileSources makes host-side file sources absolute relative to
// the directory of the layer that declared them.
func resolveFileSources(doc map[string]any, layerDir, hostHome string) {
	resolve := func(entries any) {
		list, ok := entries.([]any)
		if !ok {
			return
		}
		for _, entry := range list {
			file, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			src, ok := file["src"].(string)
			if !ok || src == "" {
				continue
			}
			switch {
			case src == "~" || strings.HasPrefix(src, "~/"):
				if hostHome != "" {
					file["src"] = filepath.Join(hostHome, strings.TrimPrefix(src, "~"))
				}
			case !filepath.IsAbs(src) && !strings.Contains(src, "${") && !strings.Contains(src, "{env."):
				file["src"] = filepath.Join(layerDir, src)
			}
		}
	}

	resolve(doc["files"])
	if hooks, ok := doc["hooks"].([]any); ok {
		for _, hook := range hooks {
			if hookMap, ok := hook.(map[string]any); ok {
				resolve(hookMap["files"])
			}
		}
	}
}

func nestedValue(doc map[string]any, keys ...string) any {
	var current any = doc
	for _, key := range keys {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = asMap[key]
	}
	return current
}

// stringList converts a decoded YAML list of scalars to strings.
func stringList(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
	result := make([]string, 0, len(list))
	for _, item := range list {
		switch typed := item.(type) {
		case string:
			result = append(result, typed)
		case nil:
			continue
		case map[string]any, []any:
			return nil, fmt.Errorf("expected scalar list entries, got %T", item)
		default:
			result = append(result, fmt.Sprint(typed))
		}
	}
	return result, nil
}

// decode converts the merged document into a typed Config.
func decode(doc map[string]any) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(toolShorthandHook),
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &cfg, nil
}

// toolShorthandHook lets a tools entry be a bare tool name.
func toolShorthandHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Tool{}) || from.Kind() != reflect.String {
		return data, nil
	}
	return map[string]any{"name": data}, nil
}
