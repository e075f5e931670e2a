package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Query navigates doc with a dotted path such as
// "repositories[0].url" or "container.work_dir". An empty path or "."
// returns doc. The boolean is false when any step is missing.
func Query(doc any, query string) (any, bool) {
	if query == "" || query == "." {
		return doc, true
	}

	current := doc
	for _, part := range strings.Split(query, ".") {
		if part == "" {
			continue
		}

		key := part
		var indexes []int
		if open := strings.Index(part, "["); open >= 0 {
			key = part[:open]
			rest := part[open:]
			for rest != "" {
				if !strings.HasPrefix(rest, "[") {
					return nil, false
				}
				closing := strings.Index(rest, "]")
				if closing < 0 {
					return nil, false
				}
				index, err := strconv.Atoi(rest[1:closing])
				if err != nil {
					return nil, false
				}
				indexes = append(indexes, index)
				rest = rest[closing+1:]
			}
		}

		if key != "" {
			asMap, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = asMap[key]
			if !ok {
				return nil, false
			}
		}

		for _, index := range indexes {
			list, ok := current.([]any)
			if !ok || index < 0 || index >= len(list) {
				return nil, false
			}
			current = list[index]
		}
	}
	return current, true
}

// QueryText is Query followed by FormatQueryResult. A missing path
// renders as the empty string; ok reports whether it was found.
func QueryText(doc any, query string) (text string, ok bool) {
	value, ok := Query(doc, query)
	return FormatQueryResult(value), ok
}

// FormatQueryResult renders a query result for shell consumption:
// scalars verbatim, lists as "- item" lines, lists of maps as "---"
// separated "key: value" blocks, and maps as indented JSON. Nil renders
// as the empty string.
func FormatQueryResult(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case []any:
		var lines []string
		for _, item := range typed {
			if entry, ok := item.(map[string]any); ok {
				lines = append(lines, "---")
				keys := make([]string, 0, len(entry))
				for key := range entry {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					lines = append(lines, fmt.Sprintf("%s: %v", key, entry[key]))
				}
				continue
			}
			lines = append(lines, fmt.Sprintf("- %v", item))
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		data, err := json.MarshalIndent(typed, "", "  ")
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(data)
	default:
		return fmt.Sprint(typed)
	}
}
