package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches ${NAME} and {env.NAME}. Bare $NAME is left
// for shell interpretation.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\{env\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// Lookup resolves a variable name.
type Lookup interface {
	Lookup(name string) (string, bool)
}

// MapLookup adapts a plain map to Lookup.
type MapLookup map[string]string

// Lookup implements Lookup.
func (m MapLookup) Lookup(name string) (string, bool) {
	value, ok := m[name]
	return value, ok
}

// Env is an ordered environment. Keys keep the position of their first
// appearance; values are replaced by later assignments.
type Env struct {
	keys   []string
	values map[string]string
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{values: make(map[string]string)}
}

// Set assigns value to key.
func (e *Env) Set(key, value string) {
	if _, exists := e.values[key]; !exists {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Lookup implements Lookup.
func (e *Env) Lookup(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	value, ok := e.values[key]
	return value, ok
}

// Get returns the value of key or "".
func (e *Env) Get(key string) string {
	value, _ := e.Lookup(key)
	return value
}

// Keys returns the keys in first-appearance order.
func (e *Env) Keys() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.keys...)
}

// Len returns the number of variables.
func (e *Env) Len() int {
	if e == nil {
		return 0
	}
	return len(e.keys)
}

// List returns KEY=VALUE strings in key order.
func (e *Env) List() []string {
	if e == nil {
		return nil
	}
	list := make([]string, 0, len(e.keys))
	for _, key := range e.keys {
		list = append(list, key+"="+e.values[key])
	}
	return list
}

// Map returns a copy of the variables.
func (e *Env) Map() map[string]string {
	result := make(map[string]string, e.Len())
	if e == nil {
		return result
	}
	for key, value := range e.values {
		result[key] = value
	}
	return result
}

// ParseEnvEntry splits a KEY=VALUE entry. An entry without "=" is a key
// with an empty value.
func ParseEnvEntry(entry string) (key, value string, err error) {
	key, value, _ = strings.Cut(entry, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("invalid env entry %q: missing variable name", entry)
	}
	return key, value, nil
}

// CoalesceEnv merges env lists in priority order (lowest first). Each
// value is expanded against the variables defined before it, so
// PATH=${PATH}:/extra extends an earlier PATH. A final pass resolves
// references to variables defined later in the sequence. Unresolved
// placeholders are left verbatim.
func CoalesceEnv(lists ...[]string) (*Env, error) {
	env := NewEnv()
	for _, list := range lists {
		for _, entry := range list {
			key, value, err := ParseEnvEntry(entry)
			if err != nil {
				return nil, err
			}
			env.Set(key, Expand(value, env))
		}
	}

	// Forward references may chain, so repeat until nothing changes. The
	// bound keeps reference cycles from looping.
	for pass := 0; pass < len(env.keys); pass++ {
		changed := false
		for _, key := range env.keys {
			expanded := Expand(env.values[key], excludingLookup{env: env, key: key})
			if expanded != env.values[key] {
				env.values[key] = expanded
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return env, nil
}

// excludingLookup hides one key so a value never expands into itself.
type excludingLookup struct {
	env *Env
	key string
}

func (l excludingLookup) Lookup(name string) (string, bool) {
	if name == l.key {
		return "", false
	}
	return l.env.Lookup(name)
}

// Expand substitutes ${NAME} and {env.NAME} placeholders from vars.
// Unresolved placeholders are left verbatim: some variables only exist
// at container runtime.
func Expand(input string, vars Lookup) string {
	if vars == nil || !strings.ContainsAny(input, "{") {
		return input
	}
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		if value, ok := vars.Lookup(placeholderName(match)); ok {
			return value
		}
		return match
	})
}

// ExpandStrict is Expand but returns an error naming every unresolved
// placeholder.
func ExpandStrict(input string, vars Lookup) (string, error) {
	var unresolved []string
	result := placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholderName(match)
		if vars != nil {
			if value, ok := vars.Lookup(name); ok {
				return value
			}
		}
		unresolved = append(unresolved, name)
		return match
	})
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}
	return result, nil
}

func placeholderName(match string) string {
	if strings.HasPrefix(match, "${") {
		return match[2 : len(match)-1]
	}
	return match[len("{env.") : len(match)-1]
}

// HomeDir returns the home directory of user inside the container:
// /root for root and /home/<user> otherwise. It never consults the
// identity of the current process.
func HomeDir(user string) string {
	if user == "root" {
		return "/root"
	}
	return "/home/" + user
}

// ExpandHome replaces a leading ~ with HomeDir(user). Paths are returned
// unchanged when user is empty.
func ExpandHome(path, user string) string {
	if user == "" {
		return path
	}
	if path == "~" {
		return HomeDir(user)
	}
	if strings.HasPrefix(path, "~/") {
		return HomeDir(user) + path[1:]
	}
	return path
}

// ExpandPath applies placeholder expansion and then ~ expansion.
func ExpandPath(path string, vars Lookup, user string) string {
	return ExpandHome(Expand(path, vars), user)
}
