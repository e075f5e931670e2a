// Package cachehash derives the content hash that keys prepared habitat
// images. Two configurations that would produce the same image hash to
// the same value; environment values, internal bookkeeping keys and
// timeouts do not participate.
package cachehash

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/jeanhaley32/claude-habitat/internal/constants"
)

var (
	// ErrInvalidConfig is returned when the configuration is not an object.
	ErrInvalidConfig = errors.New("cache hash: config must be an object")

	// ErrInvalidExtraRepos is returned when extra repositories are not a list.
	ErrInvalidExtraRepos = errors.New("cache hash: extra repositories must be a list")
)

// excludedKeys are top-level sections that never affect the built image.
var excludedKeys = map[string]bool{
	"env":         true,
	"environment": true,
	"timeout":     true,
}

// domainKey is the BLAKE3 key for image cache hashes: the ASCII name of
// the domain, zero-padded to 32 bytes. Changing it invalidates every
// prepared image.
var domainKey = [32]byte{
	'h', 'a', 'b', 'i', 't', 'a', 't', '.', 'i', 'm', 'a', 'g', 'e', '.',
	'p', 'r', 'e', 'p', 'a', 'r', 'e', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// payload is the canonical form that gets hashed.
type payload struct {
	Config     map[string]any `json:"config"`
	ExtraRepos []string       `json:"extra_repositories"`
}

// Calculate hashes doc, the merged configuration document before
// placeholder expansion, together with extraRepos, the repository
// overrides given on the command line. The result is
// constants.CacheHashLength lowercase hex characters.
func Calculate(doc map[string]any, extraRepos []string) (string, error) {
	if doc == nil {
		return "", ErrInvalidConfig
	}
	if extraRepos == nil {
		extraRepos = []string{}
	}

	// encoding/json sorts map keys, so equal documents serialize to
	// equal bytes regardless of source ordering or formatting.
	data, err := json.Marshal(payload{Config: strip(doc, true), ExtraRepos: extraRepos})
	if err != nil {
		return "", fmt.Errorf("cache hash: serialize config: %w", err)
	}

	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("cachehash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	sum := hex.EncodeToString(hasher.Sum(nil))
	return sum[:constants.CacheHashLength], nil
}

// CalculateAny is Calculate for loosely typed input, such as values
// decoded from JSON or YAML. cfg must be an object and extra, when not
// nil, a list of strings.
func CalculateAny(cfg any, extra any) (string, error) {
	doc, ok := cfg.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: got %T", ErrInvalidConfig, cfg)
	}

	var repos []string
	switch typed := extra.(type) {
	case nil:
	case []string:
		repos = typed
	case []any:
		repos = make([]string, 0, len(typed))
		for index, item := range typed {
			text, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("%w: element %d is %T", ErrInvalidExtraRepos, index, item)
			}
			repos = append(repos, text)
		}
	default:
		return "", fmt.Errorf("%w: got %T", ErrInvalidExtraRepos, extra)
	}

	return Calculate(doc, repos)
}

// strip returns a copy of doc without internal keys (leading
// underscore, at any depth) and, at the top level, without excludedKeys.
func strip(doc map[string]any, top bool) map[string]any {
	result := make(map[string]any, len(doc))
	for key, value := range doc {
		if strings.HasPrefix(key, "_") {
			continue
		}
		if top && excludedKeys[key] {
			continue
		}
		result[key] = stripValue(value)
	}
	return result
}

func stripValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return strip(typed, false)
	case []any:
		items := make([]any, len(typed))
		for index, item := range typed {
			items[index] = stripValue(item)
		}
		return items
	default:
		return value
	}
}
