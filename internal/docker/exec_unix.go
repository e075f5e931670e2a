//go:build darwin || linux

package docker

import "syscall"

// execSyscall hands the process over to docker so the attached session
// owns the terminal. It does not return on success.
func execSyscall(path string, args []string, env []string) error {
	return syscall.Exec(path, args, env)
}
