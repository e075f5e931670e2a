package docker

import "context"

// BuildSpec describes an image build.
type BuildSpec struct {
	Tag        string
	Dockerfile string
	ContextDir string
	BuildArgs  map[string]string
	Labels     map[string]string
	NoCache    bool
}

// Mount binds a host path into a container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes a detached container.
type RunSpec struct {
	Image      string
	Name       string
	User       string
	WorkDir    string
	Env        []string
	Labels     map[string]string
	Mounts     []Mount
	Entrypoint string
	Command    []string
}

// ExecSpec describes a command run inside a running container.
type ExecSpec struct {
	Command []string
	User    string
	WorkDir string
	Env     []string
}

// ExecResult is the outcome of a command that ran. A non-zero ExitCode
// is not an error at this level; see Check.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Engine is the container engine used to build habitat images and run
// habitat containers.
type Engine interface {
	// Build builds an image from a Dockerfile.
	Build(ctx context.Context, spec BuildSpec) error

	// ImageExists reports whether tag is present locally.
	ImageExists(ctx context.Context, tag string) (bool, error)

	// Run starts a detached container and returns its id.
	Run(ctx context.Context, spec RunSpec) (string, error)

	// Exec runs a command inside a running container.
	Exec(ctx context.Context, container string, spec ExecSpec) (ExecResult, error)

	// CopyTo copies a host file or directory into the container.
	CopyTo(ctx context.Context, container, src, dest string) error

	// Commit snapshots the container as tag. changes are Dockerfile
	// instructions such as "ENV A=B" or "WORKDIR /src".
	Commit(ctx context.Context, container, tag string, changes []string) error

	// Remove force-removes a container. Removing a missing container is
	// not an error.
	Remove(ctx context.Context, container string) error

	// IsRunning reports whether the container is running.
	IsRunning(ctx context.Context, container string) (bool, error)
}

// Attacher hands the terminal over to an interactive process inside a
// container.
type Attacher interface {
	Attach(container string, spec ExecSpec) error
}

// Check runs spec and turns a non-zero exit into a *ContainerError.
func Check(ctx context.Context, engine Engine, container string, spec ExecSpec) (ExecResult, error) {
	result, err := engine.Exec(ctx, container, spec)
	if err != nil {
		return result, err
	}
	if result.ExitCode != 0 {
		return result, &ContainerError{
			Op:        "exec",
			Container: container,
			Command:   spec.Command,
			ExitCode:  result.ExitCode,
			Output:    result.Stderr,
		}
	}
	return result, nil
}

// Shell wraps a shell script for ExecSpec.Command.
func Shell(script string) []string {
	return []string{"/bin/sh", "-c", script}
}
