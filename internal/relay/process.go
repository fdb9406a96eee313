package relay

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const killGracePeriod = 5 * time.Second

// ProcessFactory returns a factory that runs each relay as a child process
// of the given binary.
func ProcessFactory(command string) Factory {
	return func(id string, opts Options) (Handle, error) {
		if command == "" {
			return nil, fmt.Errorf("relay command not configured")
		}
		return &processHandle{id: id, command: command, opts: opts}, nil
	}
}

// processHandle runs one relay as a child process. The child gets its own
// process group so Stop can signal the whole group, and on Linux it is
// killed by the kernel if this process dies first.
type processHandle struct {
	id      string
	command string
	opts    Options

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{} // closed when the current process has been reaped
}

func (p *processHandle) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		select {
		case <-p.done:
			// Previous process exited; fall through and respawn.
		default:
			return nil
		}
	}

	args := []string{"-server", p.opts.Remote}
	if p.opts.Bind != "" {
		args = append(args, "-bind", p.opts.Bind)
	}
	if p.opts.BindPort > 0 {
		args = append(args, "-bind_port", strconv.Itoa(p.opts.BindPort))
	}
	if p.opts.IPv6 {
		args = append(args, "-6")
	}

	cmd := exec.Command(p.command, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Stdin = nil
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", p.command, err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(done)
		if err != nil {
			log.Printf("Relay process for %s exited: %v", p.id, err)
		}
	}()

	p.cmd = cmd
	p.done = done
	log.Printf("Relay process for %s started (pid %d)", p.id, cmd.Process.Pid)
	return nil
}

// Stop terminates the process group with SIGTERM, escalating to SIGKILL
// after a grace period or when ctx expires.
func (p *processHandle) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	// Negative PID addresses the process group created at spawn.
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	grace := time.NewTimer(killGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	<-done
	return nil
}
