//go:build !linux

package relay

import "syscall"

// sysProcAttr puts the relay in its own process group so Stop can signal
// it and its children together. Pdeathsig is not available off Linux.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
