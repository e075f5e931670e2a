package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Default timeout for short Docker commands (inspect, rm, ps)
const defaultCommandTimeout = 30 * time.Second

// Manager implements Engine and Attacher using the Docker CLI.
type Manager struct {
	// Binary is the docker executable. Defaults to "docker".
	Binary string

	// Output receives build progress. Nil discards it.
	Output io.Writer
}

// NewManager creates a new Docker manager.
func NewManager() *Manager {
	return &Manager{Binary: "docker"}
}

func (m *Manager) binary() string {
	if m.Binary == "" {
		return "docker"
	}
	return m.Binary
}

// Ping verifies the Docker daemon is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := m.output(ctx, defaultCommandTimeout, "info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("Docker is not running. Please start Docker: %w", err)
	}
	return nil
}

func (m *Manager) Build(ctx context.Context, spec BuildSpec) error {
	if spec.Tag == "" {
		return &ContainerError{Op: "build", Err: errors.New("image tag is required")}
	}

	cmd := exec.CommandContext(ctx, m.binary(), buildArgs(spec)...)
	var stderr bytes.Buffer
	if m.Output != nil {
		cmd.Stdout = m.Output
		cmd.Stderr = io.MultiWriter(m.Output, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		return &ContainerError{Op: "build", Container: spec.Tag, ExitCode: exitCode(err), Output: stderr.String(), Err: contextErr(ctx, err)}
	}
	return nil
}

func (m *Manager) ImageExists(ctx context.Context, tag string) (bool, error) {
	_, err := m.output(ctx, defaultCommandTimeout, "image", "inspect", "--format", "{{.Id}}", tag)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

func (m *Manager) Run(ctx context.Context, spec RunSpec) (string, error) {
	if spec.Image == "" {
		return "", &ContainerError{Op: "run", Err: errors.New("image is required")}
	}

	output, err := m.output(ctx, 0, runArgs(spec)...)
	if err != nil {
		return "", &ContainerError{Op: "run", Container: spec.Name, ExitCode: exitCode(err), Output: stderrOf(err), Err: err}
	}
	return strings.TrimSpace(string(output)), nil
}

func (m *Manager) Exec(ctx context.Context, container string, spec ExecSpec) (ExecResult, error) {
	if len(spec.Command) == 0 {
		return ExecResult{}, &ContainerError{Op: "exec", Container: container, Err: errors.New("command is required")}
	}

	cmd := exec.CommandContext(ctx, m.binary(), execArgs(container, spec, false)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, &ContainerError{Op: "exec", Container: container, Command: spec.Command, Err: contextErr(ctx, err)}
	}
	return result, nil
}

func (m *Manager) CopyTo(ctx context.Context, container, src, dest string) error {
	if _, err := m.output(ctx, 0, "cp", src, container+":"+dest); err != nil {
		return &ContainerError{Op: "cp", Container: container, Command: []string{src, dest}, Output: stderrOf(err), Err: err}
	}
	return nil
}

func (m *Manager) Commit(ctx context.Context, container, tag string, changes []string) error {
	if _, err := m.output(ctx, 0, commitArgs(container, tag, changes)...); err != nil {
		return &ContainerError{Op: "commit", Container: container, Output: stderrOf(err), Err: err}
	}
	return nil
}

func (m *Manager) Remove(ctx context.Context, container string) error {
	if !m.containerExists(ctx, container) {
		return nil // Nothing to remove
	}
	if _, err := m.output(ctx, defaultCommandTimeout, "rm", "-f", container); err != nil {
		return &ContainerError{Op: "rm", Container: container, Output: stderrOf(err), Err: err}
	}
	return nil
}

func (m *Manager) IsRunning(ctx context.Context, container string) (bool, error) {
	output, err := m.output(ctx, defaultCommandTimeout, "inspect", "-f", "{{.State.Running}}", container)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(string(output)) == "true", nil
}

// Attach replaces the current process with docker exec -it into the
// container. This is used for interactive sessions.
// Note: This function does not return on success
func (m *Manager) Attach(container string, spec ExecSpec) error {
	dockerPath, err := exec.LookPath(m.binary())
	if err != nil {
		return fmt.Errorf("docker not found in PATH: %w", err)
	}
	if len(spec.Command) == 0 {
		spec.Command = []string{"/bin/bash"}
	}

	args := append([]string{"docker"}, execArgs(container, spec, true)...)
	return execSyscall(dockerPath, args, os.Environ())
}

// containerExists checks if a container exists (running or stopped).
func (m *Manager) containerExists(ctx context.Context, container string) bool {
	output, err := m.output(ctx, defaultCommandTimeout, "ps", "-a", "-q", "-f", "name=^"+container+"$")
	if err != nil {
		return false
	}
	if len(strings.TrimSpace(string(output))) > 0 {
		return true
	}
	// Container ids never match the name filter.
	_, err = m.output(ctx, defaultCommandTimeout, "inspect", "--format", "{{.Id}}", container)
	return err == nil
}

// output runs a docker command and returns stdout. A positive timeout
// bounds the command in addition to ctx.
func (m *Manager) output(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, m.binary(), args...)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("docker %s timed out: %w", args[0], ctx.Err())
		}
		return nil, err
	}
	return output, nil
}

func buildArgs(spec BuildSpec) []string {
	args := []string{"build", "-t", spec.Tag}
	if spec.Dockerfile != "" {
		args = append(args, "-f", spec.Dockerfile)
	}
	if spec.NoCache {
		args = append(args, "--no-cache")
	}
	for _, key := range sortedKeys(spec.BuildArgs) {
		args = append(args, "--build-arg", key+"="+spec.BuildArgs[key])
	}
	for _, key := range sortedKeys(spec.Labels) {
		args = append(args, "--label", key+"="+spec.Labels[key])
	}
	contextDir := spec.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	return append(args, contextDir)
}

func runArgs(spec RunSpec) []string {
	args := []string{"run", "-d"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	for _, key := range sortedKeys(spec.Labels) {
		args = append(args, "--label", key+"="+spec.Labels[key])
	}
	for _, mount := range spec.Mounts {
		volume := mount.Source + ":" + mount.Target
		if mount.ReadOnly {
			volume += ":ro"
		}
		args = append(args, "-v", volume)
	}
	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}
	if spec.User != "" {
		args = append(args, "-u", spec.User)
	}
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	if spec.Entrypoint != "" {
		args = append(args, "--entrypoint", spec.Entrypoint)
	}
	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

func execArgs(container string, spec ExecSpec, interactive bool) []string {
	args := []string{"exec"}
	if interactive {
		args = append(args, "-it")
	}
	if spec.User != "" {
		args = append(args, "-u", spec.User)
	}
	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	args = append(args, container)
	return append(args, spec.Command...)
}

func commitArgs(container, tag string, changes []string) []string {
	args := []string{"commit"}
	for _, change := range changes {
		args = append(args, "--change", change)
	}
	return append(args, container, tag)
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 0
}

func stderrOf(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(exitErr.Stderr)
	}
	return ""
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
