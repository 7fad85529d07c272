package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/signalsfoundry/interop-sim/internal/orchestrator"
	"github.com/signalsfoundry/interop-sim/model"
)

// LaunchSpec describes one model process. A model process hosts every node
// of its kind.
type LaunchSpec struct {
	Network string
	Kind    model.NodeKind
	Count   int
	RPCAddr string
	DataDir string
}

// Process is a launched model process.
type Process interface {
	orchestrator.ProcessHandle
	// Interrupt asks the process to exit. It does not wait.
	Interrupt() error
}

// Launcher starts model processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher runs <ModelsDir>/<kind>/<kind> for each kind.
type ExecLauncher struct {
	ModelsDir string
	Stdout    io.Writer
	Stderr    io.Writer
}

// ModelPath returns the executable path for kind.
func (l ExecLauncher) ModelPath(kind model.NodeKind) string {
	return filepath.Join(l.ModelsDir, string(kind), string(kind))
}

// Launch starts the model binary. The process is not bound to ctx; it runs
// until Interrupt.
func (l ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	path := l.ModelPath(spec.Kind)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model %s: %w", spec.Kind, err)
	}
	if spec.DataDir != "" {
		if err := os.MkdirAll(spec.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("model %s data dir: %w", spec.Kind, err)
		}
	}

	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = append(os.Environ(),
		"BLAST_NETWORK="+spec.Network,
		"BLAST_NODE_COUNT="+strconv.Itoa(spec.Count),
		"BLAST_RPC_ADDR="+spec.RPCAddr,
		"BLAST_DATA_DIR="+spec.DataDir,
	)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start model %s: %w", spec.Kind, err)
	}
	return &execProcess{name: string(spec.Kind), cmd: cmd}, nil
}

type execProcess struct {
	name string
	cmd  *exec.Cmd

	once sync.Once
	code int
	err  error
}

func (p *execProcess) Name() string { return p.name }

func (p *execProcess) Interrupt() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Signal(os.Interrupt)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return fmt.Errorf("interrupt model %s: %w", p.name, err)
}

// Wait may be called more than once; the first result is kept.
func (p *execProcess) Wait() (int, error) {
	p.once.Do(func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.code = p.cmd.ProcessState.ExitCode()
		case errors.As(err, &exitErr):
			p.code = exitErr.ExitCode()
		default:
			p.code = -1
			p.err = err
		}
	})
	return p.code, p.err
}
