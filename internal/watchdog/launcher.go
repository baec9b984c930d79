package watchdog

import (
	"context"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// ExecLauncher starts the engine binary as a child process.
type ExecLauncher struct {
	Path   string
	Args   []string
	Logger *zap.Logger
}

func (l *ExecLauncher) Start(ctx context.Context) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if err != nil && l.Logger != nil {
			l.Logger.Warn("engine exited", zap.Error(err))
		}
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
