package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/signalsfoundry/interop-sim/internal/logging"
	"github.com/signalsfoundry/interop-sim/internal/token"
)

// ProcessExit records how one node process ended.
type ProcessExit struct {
	Name string
	Code int
	Err  error // wait failure; Code is meaningless when set
}

// ShutdownReport collects everything that went wrong during teardown. None
// of it changes the outcome of the run.
type ShutdownReport struct {
	TasksJoined  int
	TaskFailures []TaskResult
	NetworkErr   error
	Processes    []ProcessExit
}

// Clean reports whether teardown finished without any recorded failure.
func (r ShutdownReport) Clean() bool {
	if len(r.TaskFailures) > 0 || r.NetworkErr != nil {
		return false
	}
	for _, p := range r.Processes {
		if p.Err != nil {
			return false
		}
	}
	return true
}

// Coordinator tears a run down exactly once: stop and join tasks, stop the
// network, wait for every process, then stop the token.
type Coordinator struct {
	net     Network
	tok     *token.Token
	log     logging.Logger
	metrics MetricsRecorder
	out     io.Writer

	once   sync.Once
	report ShutdownReport
}

// NewCoordinator builds a coordinator. Nil log, metrics or out fall back to
// no-op implementations.
func NewCoordinator(net Network, tok *token.Token, log logging.Logger, metrics MetricsRecorder, out io.Writer) *Coordinator {
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Coordinator{net: net, tok: tok, log: log, metrics: metrics, out: out}
}

// Shutdown runs teardown on the first call and returns its report. Later
// calls return the same report without touching the network again. tasks
// is nil when the simulation never started.
func (c *Coordinator) Shutdown(ctx context.Context, tasks TaskSet, procs []ProcessHandle) ShutdownReport {
	c.once.Do(func() {
		c.report = c.shutdown(context.WithoutCancel(ctx), tasks, procs)
	})
	return c.report
}

func (c *Coordinator) shutdown(ctx context.Context, tasks TaskSet, procs []ProcessHandle) ShutdownReport {
	var report ShutdownReport

	if tasks != nil {
		c.net.StopSimulation()
		for {
			res, ok := tasks.JoinNext()
			if !ok {
				break
			}
			report.TasksJoined++
			c.metrics.IncTaskJoin(res.Err)
			if res.Err != nil {
				report.TaskFailures = append(report.TaskFailures, res)
				fmt.Fprintln(c.out, "Error waiting for simulation to stop")
				c.log.Warn(ctx, "simulation task failed",
					logging.String("task", res.Name),
					logging.Err(res.Err),
				)
			}
		}
	}

	if c.net != nil {
		if err := c.net.StopNetwork(ctx); err != nil {
			report.NetworkErr = err
			fmt.Fprintf(c.out, "Failed to stop the network: %v\n", err)
			c.log.Warn(ctx, "network stop failed", logging.Err(err))
		}
	}

	for _, p := range procs {
		if p == nil {
			continue
		}
		code, err := p.Wait()
		exit := ProcessExit{Name: p.Name(), Code: code, Err: err}
		report.Processes = append(report.Processes, exit)
		c.metrics.IncProcessExit(err)
		if err != nil {
			fmt.Fprintf(c.out, "Failed to wait for child process: %v\n", err)
			c.log.Warn(ctx, "process wait failed",
				logging.String("process", exit.Name),
				logging.Err(err),
			)
			continue
		}
		fmt.Fprintf(c.out, "Model process exited with status: %d\n", code)
		c.log.Debug(ctx, "process exited",
			logging.String("process", exit.Name),
			logging.Int("code", code),
		)
	}

	if c.tok != nil {
		c.tok.Stop()
	}
	c.log.Info(ctx, "shutdown complete",
		logging.Int("tasks_joined", report.TasksJoined),
		logging.Int("processes", len(report.Processes)),
		logging.Bool("clean", report.Clean()),
	)
	return report
}
