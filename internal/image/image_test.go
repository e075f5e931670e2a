package image

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jeanhaley32/claude-habitat/internal/config"
)

func TestPreparedTag(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"claude-habitat-base:latest", "claude-habitat-base:latest-prepared-abc123def456"},
		{"registry.local:5000/team/habitat:v1", "registry.local:5000/team/habitat:v1-prepared-abc123def456"},
		{"registry.local:5000/team/habitat", "registry.local:5000/team/habitat:prepared-abc123def456"},
		{"habitat", "habitat:prepared-abc123def456"},
	}
	for _, tt := range tests {
		if got := PreparedTag(tt.base, "abc123def456"); got != tt.want {
			t.Errorf("PreparedTag(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestBaseImage(t *testing.T) {
	cfg := &config.Config{
		Name: "My Project",
		Path: "/projects/habitats/my-project/config.yaml",
		Image: config.Image{
			Dockerfile: "docker/Dockerfile",
			BuildArgs:  []string{"NODE_VERSION=20", "EMPTY"},
		},
	}

	got := BaseImage(cfg)
	want := Image{
		Tag:        "claude-habitat-my-project:latest",
		Dockerfile: "/projects/habitats/my-project/docker/Dockerfile",
		BuildArgs:  map[string]string{"NODE_VERSION": "20", "EMPTY": ""},
		Type:       TypeBase,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BaseImage() mismatch (-want +got):\n%s", diff)
	}
	if !got.IsBase() || got.IsPrepared() {
		t.Error("base image reports the wrong type")
	}
}

func TestBaseImage_ExplicitTagAndEmbeddedDockerfile(t *testing.T) {
	got := BaseImage(&config.Config{Name: "x", Image: config.Image{Tag: "custom:1"}})
	if got.Tag != "custom:1" {
		t.Errorf("Tag = %q, want custom:1", got.Tag)
	}
	if got.Dockerfile != "" {
		t.Errorf("Dockerfile = %q, want embedded", got.Dockerfile)
	}
	if got.BuildArgs != nil {
		t.Errorf("BuildArgs = %v, want nil", got.BuildArgs)
	}
}

func TestPrepared(t *testing.T) {
	prepared := Prepared(Image{Tag: "base:latest", Type: TypeBase}, "0123456789ab")
	want := Image{Tag: "base:latest-prepared-0123456789ab", Type: TypePrepared, CacheHash: "0123456789ab"}
	if diff := cmp.Diff(want, prepared); diff != "" {
		t.Errorf("Prepared() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRepoSpec(t *testing.T) {
	tests := []struct {
		spec    string
		want    config.Repository
		wantErr bool
	}{
		{
			spec: "https://github.com/example/app:/workspace/app",
			want: config.Repository{URL: "https://github.com/example/app", Path: "/workspace/app", Branch: "main", Access: config.AccessWrite},
		},
		{
			spec: "https://github.com/example/app:/workspace/app:develop",
			want: config.Repository{URL: "https://github.com/example/app", Path: "/workspace/app", Branch: "develop", Access: config.AccessWrite},
		},
		{
			spec: "git@github.com:example/app.git:/src/app",
			want: config.Repository{URL: "git@github.com:example/app.git", Path: "/src/app", Branch: "main", Access: config.AccessWrite},
		},
		{spec: "https://github.com/example/app", wantErr: true},
		{spec: "relative:path", wantErr: true},
		{spec: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRepoSpec(tt.spec)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRepoSpec(%q) expected error, got %+v", tt.spec, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRepoSpec(%q) unexpected error: %v", tt.spec, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseRepoSpec(%q) mismatch (-want +got):\n%s", tt.spec, diff)
		}
	}
}

func TestScriptUsers(t *testing.T) {
	got := scriptUsers(map[string][]string{
		"node":  {"a"},
		"root":  {"b"},
		"alice": {"c"},
	})
	want := []string{"root", "alice", "node"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scriptUsers() mismatch (-want +got):\n%s", diff)
	}

	if got := scriptUsers(map[string][]string{"node": nil}); !cmp.Equal(got, []string{"node"}) {
		t.Errorf("scriptUsers() without root = %v", got)
	}
}

func TestEnvProfileScript(t *testing.T) {
	env, err := config.CoalesceEnv([]string{"A=plain", "B=x\nHABITAT_ENV\ny"})
	if err != nil {
		t.Fatal(err)
	}

	want := `mkdir -p '/etc/profile.d' && printf '%s\n' ` +
		`'export A='\''plain'\''' ` +
		"'export B='\\''x\nHABITAT_ENV\ny'\\''' " +
		`> '/etc/profile.d/habitat-env.sh'`
	if diff := cmp.Diff(want, envProfileScript(env)); diff != "" {
		t.Errorf("envProfileScript() mismatch (-want +got):\n%s", diff)
	}
}
