//go:build !darwin && !linux

package docker

import "errors"

func execSyscall(string, []string, []string) error {
	return errors.New("interactive attach is only supported on darwin and linux")
}
