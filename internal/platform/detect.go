// Package platform describes the host the CLI runs on.
package platform

import "runtime"

// OS represents a host operating system.
type OS string

const (
	MacOS   OS = "darwin"
	Linux   OS = "linux"
	Unknown OS = "unknown"
)

// Detect returns the current operating system.
func Detect() OS {
	return fromGOOS(runtime.GOOS)
}

func fromGOOS(goos string) OS {
	switch goos {
	case "darwin":
		return MacOS
	case "linux":
		return Linux
	default:
		return Unknown
	}
}

// String returns "os/arch" for the running binary.
func String() string {
	return string(Detect()) + "/" + runtime.GOARCH
}

// SupportsAttach reports whether the CLI can hand its terminal to a
// container session. Attaching replaces the process, which is only
// available on Unix hosts.
func SupportsAttach() bool {
	return supportsAttach(Detect())
}

func supportsAttach(os OS) bool {
	return os == MacOS || os == Linux
}
