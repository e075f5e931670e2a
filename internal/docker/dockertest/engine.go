// Package dockertest provides an in-memory docker.Engine for tests.
package dockertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeanhaley32/claude-habitat/internal/docker"
)

// Operation names accepted by FailOn.
const (
	OpBuild  = "build"
	OpRun    = "run"
	OpExec   = "exec"
	OpCopy   = "cp"
	OpCommit = "commit"
	OpRemove = "rm"
)

// Image is an image known to the fake engine.
type Image struct {
	Tag     string
	From    string
	Labels  map[string]string
	Changes []string
}

// Copy records a CopyTo call.
type Copy struct {
	Src  string
	Dest string
}

// Container is a container started on the fake engine.
type Container struct {
	ID      string
	Name    string
	Image   string
	Spec    docker.RunSpec
	Running bool
	Files   map[string]bool
	Execs   []docker.ExecSpec
	Copies  []Copy
}

// ExecHandler may answer an exec call. Returning false falls back to
// the default behavior.
type ExecHandler func(container string, spec docker.ExecSpec) (docker.ExecResult, bool)

// Engine is a concurrency-safe in-memory docker.Engine.
//
// Exec understands two commands: "test -e <path>" succeeds when path was
// created by CopyTo, "mkdir -p" or AddFile, and "mkdir -p <paths...>"
// records those paths. Everything else exits 0 unless a handler says
// otherwise.
type Engine struct {
	mu         sync.Mutex
	images     map[string]*Image
	containers map[string]*Container
	removed    []string
	builds     []docker.BuildSpec
	failures   map[string]error
	handler    ExecHandler
	execDelay  time.Duration
	nextID     int
	attached   []docker.ExecSpec
}

var _ docker.Engine = (*Engine)(nil)
var _ docker.Attacher = (*Engine)(nil)

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		images:     map[string]*Image{},
		containers: map[string]*Container{},
		failures:   map[string]error{},
	}
}

// AddImage registers an image as already present.
func (e *Engine) AddImage(tag string, labels map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.images[tag] = &Image{Tag: tag, Labels: labels}
}

// Image returns a copy of the named image.
func (e *Engine) Image(tag string) (Image, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	image, ok := e.images[tag]
	if !ok {
		return Image{}, false
	}
	return *image, true
}

// Builds returns every Build call in order.
func (e *Engine) Builds() []docker.BuildSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]docker.BuildSpec(nil), e.builds...)
}

// FailOn makes every later call of op return err. A nil err clears it.
func (e *Engine) FailOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

// HandleExec installs handler for exec calls.
func (e *Engine) HandleExec(handler ExecHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// DelayExec makes every exec take d, or less if its context ends first.
func (e *Engine) DelayExec(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execDelay = d
}

// Container returns a copy of the container with id or name ref.
func (e *Engine) Container(ref string) (Container, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	container := e.lookup(ref)
	if container == nil {
		return Container{}, false
	}
	copied := *container
	copied.Files = make(map[string]bool, len(container.Files))
	for path := range container.Files {
		copied.Files[path] = true
	}
	copied.Execs = append([]docker.ExecSpec(nil), container.Execs...)
	copied.Copies = append([]Copy(nil), container.Copies...)
	return copied, true
}

// Containers returns the number of live containers.
func (e *Engine) Containers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.containers)
}

// Removed returns the ids of removed containers in order.
func (e *Engine) Removed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.removed...)
}

// AddFile marks path as present in the container.
func (e *Engine) AddFile(ref, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if container := e.lookup(ref); container != nil {
		container.Files[path] = true
	}
}

// SetRunning overrides the running state of a container.
func (e *Engine) SetRunning(ref string, running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if container := e.lookup(ref); container != nil {
		container.Running = running
	}
}

// Attached returns the specs passed to Attach.
func (e *Engine) Attached() []docker.ExecSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]docker.ExecSpec(nil), e.attached...)
}

func (e *Engine) Build(ctx context.Context, spec docker.BuildSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure(ctx, OpBuild); err != nil {
		return &docker.ContainerError{Op: OpBuild, Container: spec.Tag, Err: err}
	}
	e.builds = append(e.builds, spec)
	e.images[spec.Tag] = &Image{Tag: spec.Tag, Labels: copyLabels(spec.Labels)}
	return nil
}

func (e *Engine) ImageExists(ctx context.Context, tag string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.images[tag]
	return ok, nil
}

func (e *Engine) Run(ctx context.Context, spec docker.RunSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure(ctx, OpRun); err != nil {
		return "", &docker.ContainerError{Op: OpRun, Container: spec.Name, Err: err}
	}
	if _, ok := e.images[spec.Image]; !ok {
		return "", &docker.ContainerError{Op: OpRun, Container: spec.Name, Err: fmt.Errorf("no such image: %s", spec.Image)}
	}
	if spec.Name != "" && e.lookup(spec.Name) != nil {
		return "", &docker.ContainerError{Op: OpRun, Container: spec.Name, Err: errors.New("container name already in use")}
	}

	e.nextID++
	id := fmt.Sprintf("fake-%04d", e.nextID)
	e.containers[id] = &Container{
		ID:      id,
		Name:    spec.Name,
		Image:   spec.Image,
		Spec:    spec,
		Running: true,
		Files:   map[string]bool{},
	}
	return id, nil
}

func (e *Engine) Exec(ctx context.Context, ref string, spec docker.ExecSpec) (docker.ExecResult, error) {
	e.mu.Lock()
	delay := e.execDelay
	handler := e.handler
	container := e.lookup(ref)
	if container == nil || !container.Running {
		e.mu.Unlock()
		return docker.ExecResult{}, &docker.ContainerError{Op: OpExec, Container: ref, Command: spec.Command, Err: errors.New("container is not running")}
	}
	container.Execs = append(container.Execs, spec)
	err := e.failure(ctx, OpExec)
	e.mu.Unlock()
	if err != nil {
		return docker.ExecResult{}, &docker.ContainerError{Op: OpExec, Container: ref, Command: spec.Command, Err: err}
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return docker.ExecResult{}, &docker.ContainerError{Op: OpExec, Container: ref, Command: spec.Command, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	if handler != nil {
		if result, handled := handler(ref, spec); handled {
			return result, nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	args := spec.Command
	switch {
	case len(args) == 3 && args[0] == "test" && args[1] == "-e":
		if container.Files[args[2]] {
			return docker.ExecResult{}, nil
		}
		return docker.ExecResult{ExitCode: 1}, nil
	case len(args) >= 2 && args[0] == "mkdir" && args[1] == "-p":
		for _, path := range args[2:] {
			container.Files[path] = true
		}
	}
	return docker.ExecResult{}, nil
}

func (e *Engine) CopyTo(ctx context.Context, ref, src, dest string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure(ctx, OpCopy); err != nil {
		return &docker.ContainerError{Op: OpCopy, Container: ref, Command: []string{src, dest}, Err: err}
	}
	container := e.lookup(ref)
	if container == nil {
		return &docker.ContainerError{Op: OpCopy, Container: ref, Err: errors.New("no such container")}
	}
	container.Copies = append(container.Copies, Copy{Src: src, Dest: dest})
	container.Files[dest] = true
	return nil
}

func (e *Engine) Commit(ctx context.Context, ref, tag string, changes []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure(ctx, OpCommit); err != nil {
		return &docker.ContainerError{Op: OpCommit, Container: ref, Err: err}
	}
	container := e.lookup(ref)
	if container == nil {
		return &docker.ContainerError{Op: OpCommit, Container: ref, Err: errors.New("no such container")}
	}

	labels := map[string]string{}
	if base, ok := e.images[container.Image]; ok {
		for key, value := range base.Labels {
			labels[key] = value
		}
	}
	for _, change := range changes {
		if rest, ok := strings.CutPrefix(change, "LABEL "); ok {
			key, value, _ := strings.Cut(rest, "=")
			labels[key] = strings.Trim(value, `"`)
		}
	}
	e.images[tag] = &Image{Tag: tag, From: container.Image, Labels: labels, Changes: append([]string(nil), changes...)}
	return nil
}

func (e *Engine) Remove(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failure(ctx, OpRemove); err != nil {
		return &docker.ContainerError{Op: OpRemove, Container: ref, Err: err}
	}
	container := e.lookup(ref)
	if container == nil {
		return nil
	}
	delete(e.containers, container.ID)
	e.removed = append(e.removed, container.ID)
	return nil
}

func (e *Engine) IsRunning(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	container := e.lookup(ref)
	return container != nil && container.Running, nil
}

// Attach records spec instead of taking over the terminal.
func (e *Engine) Attach(ref string, spec docker.ExecSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if container := e.lookup(ref); container == nil || !container.Running {
		return &docker.ContainerError{Op: OpExec, Container: ref, Err: errors.New("container is not running")}
	}
	e.attached = append(e.attached, spec)
	return nil
}

// lookup finds a container by id or name. Callers hold e.mu.
func (e *Engine) lookup(ref string) *Container {
	if container, ok := e.containers[ref]; ok {
		return container
	}
	for _, container := range e.containers {
		if container.Name != "" && container.Name == ref {
			return container
		}
	}
	return nil
}

// failure returns the configured error for op, or the context error.
// Callers hold e.mu.
func (e *Engine) failure(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.failures[op]
}

func copyLabels(labels map[string]string) map[string]string {
	result := make(map[string]string, len(labels))
	for key, value := range labels {
		result[key] = value
	}
	return result
}
