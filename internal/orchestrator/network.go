// Package orchestrator drives one simulation run through its fixed setup
// phases against a Network, and funnels every exit path into a single
// shutdown.
package orchestrator

import (
	"context"

	"github.com/signalsfoundry/interop-sim/internal/token"
	"github.com/signalsfoundry/interop-sim/model"
)

// Network is the network simulation core the orchestrator instructs. Every
// method may block on node processes; none of them is expected to observe
// the cancellation token on the orchestrator's behalf.
type Network interface {
	// CreateNetwork launches count nodes per kind and returns one handle per
	// launched process. The core keeps tok and polls it from its own loops.
	CreateNetwork(ctx context.Context, name string, counts map[model.NodeKind]int, tok *token.Token) ([]ProcessHandle, error)

	ConnectPeer(ctx context.Context, c model.Connection) error
	FundNode(ctx context.Context, f model.Funding) error
	OpenChannel(ctx context.Context, c model.ChannelSpec) error
	AddActivity(ctx context.Context, a model.ActivitySpec) error
	AddEvent(ctx context.Context, e model.EventSpec) error

	// FinalizeSimulation checks the registered activity and events against
	// the network before anything runs.
	FinalizeSimulation(ctx context.Context) error

	// StartSimulation starts the activity and event tasks.
	StartSimulation(ctx context.Context) (TaskSet, error)

	// StopSimulation asks running tasks to wind down. It never fails.
	StopSimulation()

	StopNetwork(ctx context.Context) error
}

// ProcessHandle is a supervised node process.
type ProcessHandle interface {
	Name() string
	// Wait blocks until the process exits and returns its exit code. A
	// non-nil error means the wait itself failed, not that the process
	// exited unsuccessfully.
	Wait() (int, error)
}

// TaskResult is the outcome of one simulation task.
type TaskResult struct {
	Name string
	Err  error
}

// TaskSet is the group of tasks started by StartSimulation.
type TaskSet interface {
	// JoinNext blocks until another task finishes. It returns false once
	// every task has been joined.
	JoinNext() (TaskResult, bool)
}
