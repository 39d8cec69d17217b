//go:build !windows

package daemon

import "syscall"

// detachSysProcAttr makes the child a session leader so it survives the
// launching shell and can never reacquire the controlling terminal.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
