package image

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeanhaley32/claude-habitat/internal/config"
	"github.com/jeanhaley32/claude-habitat/internal/constants"
	"github.com/jeanhaley32/claude-habitat/internal/credential"
	"github.com/jeanhaley32/claude-habitat/internal/ctxlog"
	"github.com/jeanhaley32/claude-habitat/internal/docker"
	"github.com/jeanhaley32/claude-habitat/internal/embedded"
	"github.com/jeanhaley32/claude-habitat/internal/phase"
	"github.com/jeanhaley32/claude-habitat/internal/repo"
	"github.com/jeanhaley32/claude-habitat/internal/verify"
)

// build is one run of the phase pipeline.
type build struct {
	manager  *Manager
	cfg      *config.Config
	base     Image
	prepared Image
	repos    []config.Repository
	rebuild  bool
	name     string

	mu           sync.Mutex
	container    string
	workdirReady bool
	committed    bool
}

func (b *build) engine() docker.Engine { return b.manager.Engine }

func (b *build) containerID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.container
}

// actions returns the default action of every phase.
func (b *build) actions() map[phase.Name]phase.Action {
	return map[phase.Name]phase.Action{
		phase.Base:    {Name: "build base image and start container", Run: b.runBase},
		phase.Users:   {Name: "create users", Run: b.runUsers},
		phase.Env:     {Name: "write environment profile", Run: b.runEnv},
		phase.Workdir: {Name: "create workspace", Run: b.runWorkdir},
		phase.Habitat: {Name: "create habitat directories", Run: b.runHabitat},
		phase.Files:   {Name: "copy files", Run: b.runFiles},
		phase.Scripts: {Name: "run setup scripts", Run: b.runScripts},
		phase.Repos:   {Name: "clone repositories", Run: b.runRepos},
		phase.Tools:   {Name: "install tools", Run: b.runTools},
		phase.Verify:  {Name: "verify required files", Run: b.runVerify},
		phase.Test:    {Name: "run tests", Run: b.runTests},
		phase.Final:   {Name: "commit prepared image", Run: b.runFinal},
	}
}

// hooks registers file and command hooks in declaration order: hook
// entries of files first, then the hooks section. Within one hooks
// entry, file copies precede commands.
func (b *build) hooks() (*phase.Registry, error) {
	registry := phase.NewRegistry()

	register := func(before, after string, action phase.Action) error {
		timing, target := phase.Before, before
		if target == "" {
			timing, target = phase.After, after
		}
		return registry.Register(timing, phase.Name(target), action)
	}

	for _, file := range b.cfg.Files {
		if !file.IsHook() {
			continue
		}
		file := file
		if err := register(file.Before, file.After, phase.Action{
			Name:      describeFile(file),
			Subaction: "files",
			Run:       func(ctx context.Context) error { return b.copyFile(ctx, file) },
		}); err != nil {
			return nil, err
		}
	}

	for _, hook := range b.cfg.Hooks {
		hook := hook
		if len(hook.Files) > 0 {
			if err := register(hook.Before, hook.After, phase.Action{
				Name:      hook.Description,
				Subaction: "files",
				Run: func(ctx context.Context) error {
					for _, file := range hook.Files {
						if err := b.copyFile(ctx, file); err != nil {
							return err
						}
					}
					return nil
				},
			}); err != nil {
				return nil, err
			}
		}
		if len(hook.Run) > 0 {
			user := hook.User
			if user == "" {
				user = "root"
			}
			if err := register(hook.Before, hook.After, phase.Action{
				Name:      hook.Description,
				Subaction: "scripts",
				Run: func(ctx context.Context) error {
					for _, command := range hook.Run {
						if err := b.shell(ctx, user, command); err != nil {
							return err
						}
					}
					return nil
				},
			}); err != nil {
				return nil, err
			}
		}
	}

	return registry, nil
}

// cleanup removes the build container. It never blocks longer than the
// manager's RemoveTimeout, even when ctx is already done.
func (b *build) cleanup(ctx context.Context) {
	id := b.containerID()
	if id == "" {
		return
	}
	timeout := b.manager.RemoveTimeout
	if timeout <= 0 {
		timeout = DefaultRemoveTimeout
	}
	removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := b.engine().Remove(removeCtx, id); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to remove build container", "container", id, "error", err)
	}
}

func (b *build) runBase(ctx context.Context) error {
	exists, err := b.engine().ImageExists(ctx, b.base.Tag)
	if err != nil {
		return fmt.Errorf("checking base image %s: %w", b.base.Tag, err)
	}

	if !exists || b.rebuild {
		if err := b.buildBase(ctx); err != nil {
			return err
		}
	}

	id, err := b.engine().Run(ctx, docker.RunSpec{
		Image:      b.base.Tag,
		Name:       b.name,
		User:       "root",
		Labels:     map[string]string{constants.LabelHabitat: b.cfg.Name},
		Entrypoint: "tail",
		Command:    []string{"-f", "/dev/null"}, // Keep container running
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.container = id
	b.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("build container started", "container", id, "image", b.base.Tag)
	return nil
}

func (b *build) buildBase(ctx context.Context) error {
	spec := docker.BuildSpec{
		Tag:       b.base.Tag,
		BuildArgs: map[string]string{},
		Labels:    map[string]string{constants.LabelHabitat: b.cfg.Name},
		NoCache:   b.rebuild,
	}
	for key, value := range b.base.BuildArgs {
		spec.BuildArgs[key] = value
	}

	if b.base.Dockerfile != "" {
		spec.Dockerfile = b.base.Dockerfile
		spec.ContextDir = filepath.Dir(b.base.Dockerfile)
	} else {
		dir, cleanup, err := embedded.WriteBuildContext()
		if err != nil {
			return err
		}
		defer cleanup()
		spec.ContextDir = dir
		if b.cfg.BaseImage != "" {
			spec.BuildArgs[embedded.BaseImageArg] = b.cfg.BaseImage
		}
	}

	ctxlog.FromContext(ctx).Info("building base image", "image", spec.Tag, "dockerfile", spec.Dockerfile)
	return b.engine().Build(ctx, spec)
}

// containerUsers returns the non-root users to create.
func (b *build) containerUsers() []string {
	seen := map[string]bool{"root": true}
	var users []string
	add := func(user string) {
		if user == "" || seen[user] {
			return
		}
		seen[user] = true
		users = append(users, user)
	}
	for _, user := range b.cfg.Users {
		add(user)
	}
	add(b.cfg.User())
	for _, user := range scriptUsers(b.cfg.Scripts) {
		add(user)
	}
	return users
}

func (b *build) runUsers(ctx context.Context) error {
	for _, user := range b.containerUsers() {
		script := fmt.Sprintf("id -u %[1]s >/dev/null 2>&1 || useradd -m -s /bin/bash %[1]s || adduser -D %[1]s", shellQuote(user))
		if err := b.shell(ctx, "root", script); err != nil {
			return fmt.Errorf("creating user %s: %w", user, err)
		}
	}
	return nil
}

func (b *build) runEnv(ctx context.Context) error {
	if b.cfg.Env.Len() == 0 {
		return nil
	}
	return b.shell(ctx, "root", envProfileScript(b.cfg.Env))
}

// envProfileScript writes one export line per variable to the profile.
// Each line is its own printf argument, so values may hold any text.
func envProfileScript(env *config.Env) string {
	lines := make([]string, 0, env.Len())
	for _, key := range env.Keys() {
		lines = append(lines, shellQuote(fmt.Sprintf("export %s=%s", key, shellQuote(env.Get(key)))))
	}
	return fmt.Sprintf("mkdir -p %s && printf '%%s\\n' %s > %s",
		shellQuote(path.Dir(constants.EnvProfilePath)), strings.Join(lines, " "), shellQuote(constants.EnvProfilePath))
}

func (b *build) runWorkdir(ctx context.Context) error {
	workDir := b.cfg.WorkDir()
	if err := b.mkdir(ctx, workDir); err != nil {
		return err
	}
	b.mu.Lock()
	b.workdirReady = workDir != ""
	b.mu.Unlock()
	return b.chown(ctx, workDir)
}

func (b *build) runHabitat(ctx context.Context) error {
	paths := b.cfg.Paths()
	if err := b.mkdir(ctx, paths.Directories()...); err != nil {
		return err
	}

	// Layer directories on the host become the habitat's system and
	// shared infrastructure.
	for _, target := range []struct {
		scope config.Scope
		dest  string
	}{
		{config.ScopeSystem, paths.System},
		{config.ScopeShared, paths.Shared},
	} {
		layer, ok := b.cfg.Layer(target.scope)
		if !ok || !layer.Loaded {
			continue
		}
		src := filepath.Dir(layer.Path) + string(filepath.Separator) + "."
		if err := b.engine().CopyTo(ctx, b.containerID(), src, target.dest); err != nil {
			return fmt.Errorf("copying %s layer: %w", target.scope, err)
		}
	}

	return b.chown(ctx, paths.Habitat)
}

func (b *build) runFiles(ctx context.Context) error {
	for _, file := range b.cfg.Files {
		if file.IsHook() {
			continue
		}
		if err := b.copyFile(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

// scriptUsers orders script owners: root first, then the rest by name.
func scriptUsers(scripts map[string][]string) []string {
	users := make([]string, 0, len(scripts))
	for user := range scripts {
		if user != "root" {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	if _, ok := scripts["root"]; ok {
		users = append([]string{"root"}, users...)
	}
	return users
}

func (b *build) runScripts(ctx context.Context) error {
	for _, user := range scriptUsers(b.cfg.Scripts) {
		for _, command := range b.cfg.Scripts[user] {
			if err := b.shell(ctx, user, command); err != nil {
				return fmt.Errorf("setup script for %s: %w", user, err)
			}
		}
	}
	return nil
}

func (b *build) runRepos(ctx context.Context) error {
	if len(b.repos) == 0 {
		return nil
	}

	var creds *credential.Credentials
	if b.manager.Credentials != nil {
		found, err := b.manager.Credentials.GitCredentials(ctx)
		switch {
		case err == nil:
			creds = found
			defer creds.Clear()
		case !errors.Is(err, credential.ErrNoCredentials):
			return fmt.Errorf("loading git credentials: %w", err)
		}
	}

	logger := ctxlog.FromContext(ctx)
	for _, repository := range b.repos {
		if b.manager.Access != nil {
			if _, err := b.manager.Access.TestAccess(ctx, repository.URL, repository.Access); err != nil {
				return err
			}
		}

		clone := repo.CloneCommand(repository, creds)
		logger.Info("cloning repository", "url", repository.URL, "path", repository.Path, "branch", repository.Branch)

		result, err := b.engine().Exec(ctx, b.containerID(), docker.ExecSpec{Command: docker.Shell(clone.Script), User: "root"})
		if err == nil && result.ExitCode != 0 {
			err = &docker.ContainerError{
				Op:        "exec",
				Container: b.containerID(),
				Command:   docker.Shell(clone.Display),
				ExitCode:  result.ExitCode,
				Output:    result.Stderr,
			}
		}
		if err != nil {
			var containerErr *docker.ContainerError
			if errors.As(err, &containerErr) {
				containerErr.Command = docker.Shell(clone.Display)
			}
			return &repo.RepositoryError{URL: repository.URL, Path: repository.Path, Op: "clone", Err: err}
		}

		if err := b.chown(ctx, repository.Path); err != nil {
			return &repo.RepositoryError{URL: repository.URL, Path: repository.Path, Op: "chown", Err: err}
		}
	}
	return nil
}

func (b *build) runTools(ctx context.Context) error {
	for _, tool := range b.cfg.Tools {
		user := tool.User
		if user == "" {
			user = "root"
		}
		if tool.Install != "" {
			if err := b.shell(ctx, user, tool.Install); err != nil {
				return fmt.Errorf("installing %s: %w", tool.Name, err)
			}
		}
		if err := b.shell(ctx, user, "command -v "+shellQuote(tool.Name)); err != nil {
			return fmt.Errorf("tool %s not available: %w", tool.Name, err)
		}
	}
	return nil
}

func (b *build) runVerify(ctx context.Context) error {
	verifier := verify.NewVerifier(b.engine(), b.cfg, b.manager.Out)
	_, err := verifier.VerifyConfig(ctx, b.containerID(), b.cfg, config.ScopeAll)
	return err
}

func (b *build) runTests(ctx context.Context) error {
	for _, test := range b.cfg.Tests {
		if err := b.shell(ctx, b.cfg.User(), test); err != nil {
			return fmt.Errorf("test %s: %w", test, err)
		}
	}
	return nil
}

func (b *build) runFinal(ctx context.Context) error {
	changes := make([]string, 0, b.cfg.Env.Len()+4)
	for _, key := range b.cfg.Env.Keys() {
		changes = append(changes, fmt.Sprintf("ENV %s=%q", key, b.cfg.Env.Get(key)))
	}
	if workDir := b.cfg.WorkDir(); workDir != "" {
		changes = append(changes, "WORKDIR "+workDir)
	}
	if user := b.cfg.User(); user != "" {
		changes = append(changes, "USER "+user)
	}
	changes = append(changes,
		fmt.Sprintf("LABEL %s=%s", constants.LabelCacheHash, b.prepared.CacheHash),
		fmt.Sprintf("LABEL %s=%s", constants.LabelHabitat, b.cfg.Name),
	)

	if err := b.engine().Commit(ctx, b.containerID(), b.prepared.Tag, changes); err != nil {
		return err
	}

	b.mu.Lock()
	b.committed = true
	b.mu.Unlock()
	return nil
}

// copyFile copies one host file into the container and applies its mode
// and owner.
func (b *build) copyFile(ctx context.Context, file config.FileSpec) error {
	if err := b.mkdir(ctx, path.Dir(file.Dest)); err != nil {
		return err
	}
	if err := b.engine().CopyTo(ctx, b.containerID(), file.Src, file.Dest); err != nil {
		return fmt.Errorf("copy %s: %w", describeFile(file), err)
	}
	if file.Mode != "" {
		if err := b.shell(ctx, "root", fmt.Sprintf("chmod %s %s", file.Mode, shellQuote(file.Dest))); err != nil {
			return fmt.Errorf("chmod %s: %w", file.Dest, err)
		}
	}

	owner := file.Owner
	if owner == "" {
		owner = b.cfg.User()
	}
	if owner != "" && owner != "root" {
		if err := b.shell(ctx, "root", fmt.Sprintf("chown -R %s %s", shellQuote(owner+":"+owner), shellQuote(file.Dest))); err != nil {
			return fmt.Errorf("chown %s: %w", file.Dest, err)
		}
	}
	return nil
}

func (b *build) mkdir(ctx context.Context, dirs ...string) error {
	_, err := docker.Check(ctx, b.engine(), b.containerID(), docker.ExecSpec{
		Command: append([]string{"mkdir", "-p"}, dirs...),
		User:    "root",
	})
	return err
}

// chown hands dir to the container user when that user is not root.
func (b *build) chown(ctx context.Context, dir string) error {
	user := b.cfg.User()
	if user == "" || user == "root" {
		return nil
	}
	return b.shell(ctx, "root", fmt.Sprintf("chown -R %s %s", shellQuote(user+":"+user), shellQuote(dir)))
}

// shell runs script as user in the workspace with the habitat
// environment.
func (b *build) shell(ctx context.Context, user, script string) error {
	_, err := docker.Check(ctx, b.engine(), b.containerID(), docker.ExecSpec{
		Command: docker.Shell(script),
		User:    user,
		WorkDir: b.workDirIfReady(),
		Env:     b.cfg.Env.List(),
	})
	return err
}

// workDirIfReady returns the workspace once the workdir phase created
// it. docker exec -w fails for a missing directory.
func (b *build) workDirIfReady() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.workdirReady {
		return ""
	}
	return b.cfg.WorkDir()
}

func describeFile(file config.FileSpec) string {
	if file.Description != "" {
		return file.Description
	}
	return fmt.Sprintf("%s -> %s", file.Src, file.Dest)
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
