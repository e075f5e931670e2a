package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanhaley32/claude-habitat/internal/duration"
)

func validConfig() *Config {
	return &Config{
		Name:      "demo",
		Container: Container{WorkDir: "/workspace", User: "root"},
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	err := Validate(&Config{Path: "/habitats/demo/config.yaml"})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{
		"name is required",
		"WORKDIR is required (set env WORKDIR or container.work_dir)",
		"USER is required (set env USER or container.user)",
	}, cfgErr.Violations)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid configuration /habitats/demo/config.yaml:\n  - name is required"))
}

func TestViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "relative workdir",
			mutate: func(c *Config) { c.Container.WorkDir = "workspace" },
			want:   `WORKDIR must be an absolute path, got "workspace"`,
		},
		{
			name:   "startup delay",
			mutate: func(c *Config) { c.Container.StartupDelay = "-1" },
			want:   "container.startup_delay must not be negative, got -1",
		},
		{
			name: "repository access",
			mutate: func(c *Config) {
				c.Repositories = []Repository{{URL: "https://github.com/a/b", Path: "/workspace/b", Access: "admin"}}
			},
			want: `repositories[0].access must be "read" or "write", got "admin"`,
		},
		{
			name: "repository path",
			mutate: func(c *Config) {
				c.Repositories = []Repository{{URL: "https://github.com/a/b", Path: "b", Access: AccessRead}}
			},
			want: `repositories[0].path must be absolute, got "b"`,
		},
		{
			name:   "file mode",
			mutate: func(c *Config) { c.Files = []FileSpec{{Src: "/a", Dest: "/b", Mode: "rwx"}} },
			want:   `files[0].mode must be octal, got "rwx"`,
		},
		{
			name:   "file hook phase",
			mutate: func(c *Config) { c.Files = []FileSpec{{Src: "/a", Dest: "/b", After: "deploy"}} },
			want:   `files[0]: unknown phase "deploy"`,
		},
		{
			name:   "hook with both targets",
			mutate: func(c *Config) { c.Hooks = []HookSpec{{Before: "env", After: "env", Run: []string{"true"}}} },
			want:   "hooks[0]: exactly one of before or after is required",
		},
		{
			name:   "empty hook",
			mutate: func(c *Config) { c.Hooks = []HookSpec{{Before: "repos"}} },
			want:   "hooks[0]: must declare run commands or files",
		},
		{
			name:   "tool name",
			mutate: func(c *Config) { c.Tools = []Tool{{Install: "make install"}} },
			want:   "tools[0].name is required",
		},
		{
			name:   "orphaned section",
			mutate: func(c *Config) { c.Raw = map[string]any{"name": "demo", "servicez": []any{}} },
			want:   `unrecognized top-level section "servicez"`,
		},
		{
			name:   "timeout phase",
			mutate: func(c *Config) { c.Timeout = duration.Config{"compile": "5m"} },
			want:   "timeout.compile: unknown phase (known: base, users, env, workdir, habitat, files, scripts, repos, tools, verify, test, final)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Contains(t, Violations(cfg), tt.want)
		})
	}
}

func TestViolations_AcceptsKnownTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.Timeout = duration.Config{"repos": "10m", duration.PerPhaseKey: "5m"}
	assert.Empty(t, Violations(cfg))
}

func TestUnknownSections(t *testing.T) {
	raw := map[string]any{
		"name":      "demo",
		"setup":     map[string]any{},
		"verify-fs": map[string]any{},
		"_internal": true,
		"zeta":      1,
		"alpha":     2,
	}
	assert.Equal(t, []string{
		`unrecognized top-level section "alpha"`,
		`unrecognized top-level section "zeta"`,
	}, UnknownSections(raw))
}

func TestUnresolvedPlaceholders(t *testing.T) {
	p := newProject(t)
	path := p.habitat(t, `
name: demo
env:
  - WORKDIR=/workspace
  - USER=root
  - LATER=${NOT_YET}
scripts:
  root:
    - echo ${WORKDIR}
    - echo ${RUNTIME_ONLY}
files:
  - src: /etc/hosts
    dest: "{env.HOSTS_DIR}/hosts"
`)
	cfg := p.load(t, path)

	assert.Equal(t, []string{
		"files[0].dest: unresolved variables: HOSTS_DIR",
		"scripts.root[1]: unresolved variables: RUNTIME_ONLY",
	}, UnresolvedPlaceholders(cfg))
	assert.Empty(t, Violations(cfg))
}
