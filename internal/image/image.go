// Package image manages the two images behind every habitat: a base
// image built from a Dockerfile and a prepared image layered on top of
// it by the build phases, tagged with the configuration's cache hash.
package image

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/repo"
)

// Type distinguishes base and prepared images.
type Type string

const (
	TypeBase     Type = "base"
	TypePrepared Type = "prepared"
)

// Image is a docker image reference.
type Image struct {
	Tag        string
	Dockerfile string
	BuildArgs  map[string]string
	Type       Type

	// CacheHash is set for prepared images.
	CacheHash string
}

// IsBase reports whether i is a base image.
func (i Image) IsBase() bool { return i.Type == TypeBase }

// IsPrepared reports whether i is a prepared image.
func (i Image) IsPrepared() bool { return i.Type == TypePrepared }

// BaseImage describes the base image of cfg. Without image.tag the tag is
// derived from the habitat name. Without image.dockerfile the embedded
// Dockerfile is used, FROM base_image when that is set.
func BaseImage(cfg *config.Config) Image {
	tag := cfg.Image.Tag
	if tag == "" {
		tag = fmt.Sprintf("%s-%s:latest", constants.DefaultBaseImageName, strings.ToLower(repo.SanitizeName(cfg.Name)))
	}

	dockerfile := cfg.Image.Dockerfile
	if dockerfile != "" && !filepath.IsAbs(dockerfile) && cfg.Path != "" {
		dockerfile = filepath.Join(filepath.Dir(cfg.Path), dockerfile)
	}

	return Image{
		Tag:        tag,
		Dockerfile: dockerfile,
		BuildArgs:  buildArgs(cfg.Image.BuildArgs),
		Type:       TypeBase,
	}
}

// Prepared returns the prepared image derived from base for hash.
func Prepared(base Image, hash string) Image {
	return Image{
		Tag:       PreparedTag(base.Tag, hash),
		Type:      TypePrepared,
		CacheHash: hash,
	}
}

// PreparedTag derives the prepared tag from a base tag:
// "claude-habitat-base:latest" becomes
// "claude-habitat-base:latest-prepared-<hash>". A base reference without
// a tag gets "prepared-<hash>" as its tag.
func PreparedTag(baseTag, hash string) string {
	name := baseTag
	if slash := strings.LastIndex(baseTag, "/"); slash >= 0 {
		name = baseTag[slash+1:]
	}
	if strings.Contains(name, ":") {
		return baseTag + constants.PreparedTagSeparator + hash
	}
	return baseTag + ":" + strings.TrimPrefix(constants.PreparedTagSeparator, "-") + hash
}

// buildArgs converts KEY=VALUE entries to a map. Entries without "="
// are passed with an empty value.
func buildArgs(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	args := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, _ := strings.Cut(entry, "=")
		args[strings.TrimSpace(key)] = value
	}
	return args
}

// ParseRepoSpec parses a command-line repository override of the form
// URL:PATH[:BRANCH]. PATH must be absolute.
func ParseRepoSpec(spec string) (config.Repository, error) {
	split := strings.LastIndex(spec, ":/")
	if split <= 0 || strings.HasPrefix(spec[split:], "://") {
		return config.Repository{}, fmt.Errorf("repository %q: expected URL:PATH[:BRANCH] with an absolute path", spec)
	}

	repository := config.Repository{
		URL:    spec[:split],
		Path:   spec[split+1:],
		Access: config.AccessWrite,
		Branch: config.DefaultBranch,
	}
	if path, branch, ok := strings.Cut(repository.Path, ":"); ok {
		repository.Path = path
		if branch != "" {
			repository.Branch = branch
		}
	}
	return repository, nil
}
