package relay

import "syscall"

// sysProcAttr puts the relay in its own process group so Stop can signal
// it and its children together. Pdeathsig has the kernel SIGTERM the child
// if this process dies first; it is Linux only.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
