// internal/process/pty.go
package process

import (
	"context"
	"os"
	"syscall"

	gopty "github.com/aymanbagabas/go-pty"
)

// ptyCols keeps tool output from wrapping mid error line
const (
	ptyCols = 200
	ptyRows = 50
)

// startPTY launches spec attached to a pseudo terminal. Output arrives on
// the terminal, already merged.
func (p *Process) startPTY(ctx context.Context, spec Spec) error {
	pt, err := gopty.New()
	if err != nil {
		return err
	}

	if err := pt.Resize(ptyCols, ptyRows); err != nil {
		pt.Close()
		return err
	}

	cmd := pt.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	}

	if err := cmd.Start(); err != nil {
		pt.Close()
		return err
	}

	p.mu.Lock()
	p.PID = cmd.Process.Pid
	p.running = true
	p.signal = cmd.Process.Signal
	p.mu.Unlock()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		p.readLines(pt, spec.OnLine)
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.Signal(syscall.SIGKILL)
		case <-p.done:
		}
	}()

	go func() {
		err := cmd.Wait()
		pt.Close()
		<-readDone
		p.finish(exitCodeOf(cmd.ProcessState, err), err)
	}()

	return nil
}
