package config

import "strings"

// sectionAliases maps alternative top-level section names onto the
// canonical name used after loading.
var sectionAliases = map[string]string{
	"environment": "env",
	"setup":       "scripts",
	"repos":       "repositories",
}

// concatenatedPaths are list-valued sections that accumulate across
// layers instead of being replaced. A trailing ".*" matches every key
// of the map at that path.
var concatenatedPaths = []string{
	"env",
	"repositories",
	"files",
	"volumes",
	"scripts.*",
	"hooks",
	"tools",
	"tests",
	"users",
	"verify-fs.required_files",
}

// normalizeDocument rewrites aliased sections onto their canonical
// names. When both forms appear in one document, list values are
// concatenated in alias-last order.
func normalizeDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	for alias, canonical := range sectionAliases {
		value, ok := doc[alias]
		if !ok {
			continue
		}
		delete(doc, alias)
		if existing, ok := doc[canonical]; ok {
			doc[canonical] = mergeValue(existing, value, canonical)
			continue
		}
		doc[canonical] = value
	}

	// A bare "user" or "workdir" at the top level is shorthand for the
	// container setting.
	if user, ok := doc["user"].(string); ok {
		delete(doc, "user")
		container := ensureMap(doc, "container")
		if _, set := container["user"]; !set {
			container["user"] = user
		}
	}
	for _, key := range []string{"workdir", "work_dir"} {
		if workdir, ok := doc[key].(string); ok {
			delete(doc, key)
			container := ensureMap(doc, "container")
			if _, set := container["work_dir"]; !set {
				container["work_dir"] = workdir
			}
		}
	}
	return doc
}

func ensureMap(doc map[string]any, key string) map[string]any {
	if existing, ok := doc[key].(map[string]any); ok {
		return existing
	}
	created := map[string]any{}
	doc[key] = created
	return created
}

// mergeDocuments layers overlay on top of base. Neither input is
// modified.
func mergeDocuments(base, overlay map[string]any) map[string]any {
	merged, _ := mergeValue(deepCopy(base), deepCopy(overlay), "").(map[string]any)
	if merged == nil {
		merged = map[string]any{}
	}
	return merged
}

// mergeValue merges overlay onto base at the given dotted path. Maps are
// merged key by key, concatenated paths append lists, and everything
// else is replaced by the overlay.
func mergeValue(base, overlay any, path string) any {
	if overlay == nil {
		return base
	}

	baseMap, baseIsMap := base.(map[string]any)
	overlayMap, overlayIsMap := overlay.(map[string]any)
	if baseIsMap && overlayIsMap {
		for key, value := range overlayMap {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if existing, ok := baseMap[key]; ok {
				baseMap[key] = mergeValue(existing, value, childPath)
			} else {
				baseMap[key] = value
			}
		}
		return baseMap
	}

	if isConcatenated(path) {
		baseList, baseIsList := base.([]any)
		overlayList, overlayIsList := overlay.([]any)
		if baseIsList && overlayIsList {
			combined := make([]any, 0, len(baseList)+len(overlayList))
			combined = append(combined, baseList...)
			return append(combined, overlayList...)
		}
	}

	return overlay
}

func isConcatenated(path string) bool {
	for _, pattern := range concatenatedPaths {
		if pattern == path {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if rest, found := strings.CutPrefix(path, prefix+"."); found && !strings.Contains(rest, ".") {
				return true
			}
		}
	}
	return false
}

// deepCopy copies maps and lists decoded from YAML.
func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, child := range typed {
			copied[key] = deepCopy(child)
		}
		return copied
	case []any:
		copied := make([]any, len(typed))
		for index, child := range typed {
			copied[index] = deepCopy(child)
		}
		return copied
	default:
		return value
	}
}

// expandDocument expands placeholders in every string of value except
// under the env section, which CoalesceEnv already resolved.
func expandDocument(value any, vars Lookup, path string) any {
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
			typed[key] = expandDocument(child, vars, childPath)
		}
		return typed
	case []any:
		for index, child := range typed {
			typed[index] = expandDocument(child, vars, path)
		}
		return typed
	case string:
		return Expand(typed, vars)
	default:
		return value
	}
}
