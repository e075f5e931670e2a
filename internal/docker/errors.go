package docker

import (
	"fmt"
	"strings"
)

// ContainerError reports a failed engine operation.
type ContainerError struct {
	Op        string
	Container string
	Command   []string
	ExitCode  int
	Output    string
	Err       error
}

func (e *ContainerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "docker %s", e.Op)
	if e.Container != "" {
		fmt.Fprintf(&b, " %s", e.Container)
	}
	if len(e.Command) > 0 {
		fmt.Fprintf(&b, " %q", strings.Join(e.Command, " "))
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if output := strings.TrimSpace(e.Output); output != "" {
		fmt.Fprintf(&b, "\nOutput: %s", output)
	}
	return b.String()
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}
