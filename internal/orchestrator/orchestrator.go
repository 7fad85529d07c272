package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/signalsfoundry/interop-sim/internal/logging"
	"github.com/signalsfoundry/interop-sim/internal/token"
	"github.com/signalsfoundry/interop-sim/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/interop-sim/internal/orchestrator"

// MetricsRecorder receives lifecycle measurements. observability.SimCollector
// implements it.
type MetricsRecorder interface {
	ObservePhase(phase string, d time.Duration)
	IncInstruction(phase string, err error)
	IncSetupFailure(phase string)
	SetLifecycleState(state int)
	IncProcessExit(err error)
	IncTaskJoin(err error)
}

type noopMetrics struct{}

func (noopMetrics) ObservePhase(string, time.Duration) {}
func (noopMetrics) IncInstruction(string, error)       {}
func (noopMetrics) IncSetupFailure(string)             {}
func (noopMetrics) SetLifecycleState(int)              {}
func (noopMetrics) IncProcessExit(error)               {}
func (noopMetrics) IncTaskJoin(error)                  {}

// Pauser waits for operator acknowledgment. Pause returns when the operator
// acknowledges, when tok is stopped, or when ctx is done.
type Pauser interface {
	Pause(ctx context.Context, prompt string, tok *token.Token) error
}

type noPause struct{}

func (noPause) Pause(context.Context, string, *token.Token) error { return nil }

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(log logging.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCollector attaches a metrics recorder.
func WithCollector(m MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithPauser sets how operator pauses are served. Without one, pauses
// return immediately.
func WithPauser(p Pauser) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pauser = p
		}
	}
}

// WithOutput sets where operator progress messages are printed.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) {
		if w != nil {
			o.out = w
		}
	}
}

// WithTracer overrides the tracer used for phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Result summarises a finished run. Shutdown is set whenever Run got past
// its single-use check.
type Result struct {
	State    State
	Shutdown *ShutdownReport
}

// Orchestrator runs one topology against one Network. It is single use.
type Orchestrator struct {
	net  Network
	topo *model.Topology
	tok  *token.Token

	log     logging.Logger
	metrics MetricsRecorder
	pauser  Pauser
	out     io.Writer
	tracer  trace.Tracer

	mu    sync.RWMutex
	state State
}

// New builds an orchestrator. A nil tok gets a fresh running token.
func New(net Network, topo *model.Topology, tok *token.Token, opts ...Option) *Orchestrator {
	if tok == nil {
		tok = token.New()
	}
	o := &Orchestrator{
		net:     net,
		topo:    topo,
		tok:     tok,
		log:     logging.Noop(),
		metrics: noopMetrics{},
		pauser:  noPause{},
		out:     io.Discard,
		tracer:  otel.Tracer(tracerName),
		state:   StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(ctx context.Context, s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()

	o.metrics.SetLifecycleState(int(s))
	o.log.Debug(ctx, "lifecycle transition",
		logging.String("from", prev.String()),
		logging.String("to", s.String()),
	)
}

// step is one entry of the setup pipeline.
type step struct {
	phase    Phase
	progress string
	failure  string
	reached  State
	size     int
	run      func(ctx context.Context) error
}

func (o *Orchestrator) setupSteps() []step {
	t := o.topo
	return []step{
		{
			phase: PhaseConnect, progress: "Connecting peers...", failure: "Failed to connect nodes",
			reached: StatePeersConnected, size: len(t.Connections),
			run: func(ctx context.Context) error {
				return applyEach(ctx, o, PhaseConnect, t.Connections, o.net.ConnectPeer)
			},
		},
		{
			phase: PhaseFund, progress: "Funding nodes...", failure: "Failed to fund nodes",
			reached: StateFunded, size: len(t.Fundings),
			run: func(ctx context.Context) error {
				return applyEach(ctx, o, PhaseFund, t.Fundings, o.net.FundNode)
			},
		},
		{
			phase: PhaseOpenChannels, progress: "Opening channels...", failure: "Failed to open channels",
			reached: StateChannelsOpened, size: len(t.Channels),
			run: func(ctx context.Context) error {
				return applyEach(ctx, o, PhaseOpenChannels, t.Channels, o.net.OpenChannel)
			},
		},
		{
			phase: PhaseActivity, progress: "Adding payment activity...", failure: "Failed to add activity",
			reached: StateActivityAdded, size: len(t.Activities),
			run: func(ctx context.Context) error {
				return applyEach(ctx, o, PhaseActivity, t.Activities, o.net.AddActivity)
			},
		},
		{
			phase: PhaseEvents, progress: "Adding events...", failure: "Failed to add events",
			reached: StateEventsAdded, size: len(t.Events),
			run: func(ctx context.Context) error {
				return applyEach(ctx, o, PhaseEvents, t.Events, o.net.AddEvent)
			},
		},
	}
}

// applyEach sends items to fn in order and stops at the first failure.
func applyEach[T fmt.Stringer](ctx context.Context, o *Orchestrator, phase Phase, items []T, fn func(context.Context, T) error) error {
	for i, item := range items {
		err := fn(ctx, item)
		o.metrics.IncInstruction(string(phase), err)
		if err != nil {
			return &SetupError{Phase: phase, Index: i, Instruction: item.String(), Err: err}
		}
	}
	return nil
}

// runStep executes one step inside its own span and records its duration.
func (o *Orchestrator) runStep(ctx context.Context, s step) error {
	if err := o.checkInterrupt(ctx, s.phase); err != nil {
		return err
	}
	fmt.Fprintln(o.out, s.progress)

	ctx, span := o.tracer.Start(ctx, "phase/"+string(s.phase), trace.WithAttributes(
		attribute.String("phase", string(s.phase)),
		attribute.Int("instructions", s.size),
	))
	defer span.End()

	start := time.Now()
	err := s.run(ctx)
	o.metrics.ObservePhase(string(s.phase), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// checkInterrupt turns a stopped token or a done context into a SetupError
// for the phase about to start.
func (o *Orchestrator) checkInterrupt(ctx context.Context, phase Phase) error {
	if !o.tok.Running() {
		return &SetupError{Phase: phase, Index: -1, Err: ErrInterrupted}
	}
	if err := ctx.Err(); err != nil {
		return &SetupError{Phase: phase, Index: -1, Err: fmt.Errorf("%w: %w", ErrInterrupted, err)}
	}
	return nil
}

// Run executes the full lifecycle. Apart from reuse of the orchestrator, a
// non-nil error is always a *SetupError. By the time Run returns, teardown
// has completed.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	ctx, log := logging.WithRunLogger(ctx, o.log)
	o.log = log

	if o.State() != StateIdle {
		return nil, fmt.Errorf("orchestrator already used (state %s)", o.State())
	}
	o.setState(ctx, StateIdle)
	o.log.Info(ctx, "run starting",
		logging.String("scenario", o.topo.Name),
		logging.Int("connections", len(o.topo.Connections)),
		logging.Int("fundings", len(o.topo.Fundings)),
		logging.Int("channels", len(o.topo.Channels)),
		logging.Int("activities", len(o.topo.Activities)),
		logging.Int("events", len(o.topo.Events)),
	)
	if ch, ok := o.topo.AnnounceChannel(); ok {
		o.log.Debug(ctx, "announce channel", logging.String("channel", ch.String()))
	}

	coord := NewCoordinator(o.net, o.tok, o.log, o.metrics, o.out)

	procs, err := o.createNetwork(ctx)
	if err != nil {
		fmt.Fprintf(o.out, "Failed to start network: %v\n", errors.Unwrap(err))
		return o.failAndShutdown(ctx, coord, PhaseCreateNetwork, nil, err)
	}
	o.setState(ctx, StateNetworkCreated)

	for _, s := range o.setupSteps() {
		if err := o.runStep(ctx, s); err != nil {
			fmt.Fprintf(o.out, "%s: %v\n", s.failure, err)
			return o.failAndShutdown(ctx, coord, s.phase, procs, err)
		}
		o.setState(ctx, s.reached)
	}

	if o.topo.PauseBeforeFinalize {
		if err := o.pauser.Pause(ctx, "Press enter to finalize and start the simulation...", o.tok); err != nil {
			o.log.Warn(ctx, "pause before finalize failed", logging.Err(err))
		}
	}

	finalize := step{
		phase: PhaseFinalize, progress: "Finalizing simulation...", failure: "Failed to finalize the simulation",
		reached: StateFinalized,
		run: func(ctx context.Context) error {
			if err := o.net.FinalizeSimulation(ctx); err != nil {
				return &SetupError{Phase: PhaseFinalize, Index: -1, Err: err}
			}
			return nil
		},
	}
	if err := o.runStep(ctx, finalize); err != nil {
		fmt.Fprintf(o.out, "%s: %v\n", finalize.failure, err)
		return o.failAndShutdown(ctx, coord, PhaseFinalize, procs, err)
	}
	o.setState(ctx, StateFinalized)

	var tasks TaskSet
	start := step{
		phase: PhaseStart, progress: "Starting simulation...", failure: "Failed to start the simulation",
		reached: StateRunning,
		run: func(ctx context.Context) error {
			ts, err := o.net.StartSimulation(ctx)
			if err != nil {
				return &SetupError{Phase: PhaseStart, Index: -1, Err: err}
			}
			tasks = ts
			return nil
		},
	}
	if err := o.runStep(ctx, start); err != nil {
		fmt.Fprintf(o.out, "%s: %v\n", start.failure, err)
		return o.failAndShutdown(ctx, coord, PhaseStart, procs, err)
	}
	o.setState(ctx, StateRunning)

	if err := o.pauser.Pause(ctx, "Press enter to stop the simulation...", o.tok); err != nil {
		o.log.Warn(ctx, "pause while running failed", logging.Err(err))
	}
	if !o.tok.Running() {
		o.log.Info(ctx, "stop requested by interrupt")
	}

	o.setState(ctx, StateStopping)
	fmt.Fprintln(o.out, "BLAST shutting down...")
	report := coord.Shutdown(ctx, tasks, procs)
	o.setState(ctx, StateStopped)
	return &Result{State: StateStopped, Shutdown: &report}, nil
}

func (o *Orchestrator) createNetwork(ctx context.Context) ([]ProcessHandle, error) {
	if err := o.checkInterrupt(ctx, PhaseCreateNetwork); err != nil {
		return nil, err
	}
	ctx, span := o.tracer.Start(ctx, "phase/"+string(PhaseCreateNetwork), trace.WithAttributes(
		attribute.String("phase", string(PhaseCreateNetwork)),
		attribute.String("scenario", o.topo.Name),
	))
	defer span.End()

	start := time.Now()
	procs, err := o.net.CreateNetwork(ctx, o.topo.Name, o.topo.NodeCounts(), o.tok)
	o.metrics.ObservePhase(string(PhaseCreateNetwork), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &SetupError{Phase: PhaseCreateNetwork, Index: -1, Err: err}
	}
	span.SetAttributes(attribute.Int("processes", len(procs)))
	return procs, nil
}

func (o *Orchestrator) fail(ctx context.Context, phase Phase, err error) *Result {
	o.metrics.IncSetupFailure(string(phase))
	o.setState(ctx, StateFailed)
	o.log.Error(ctx, "setup failed",
		logging.String("phase", string(phase)),
		logging.Err(err),
	)
	return &Result{State: StateFailed}
}

func (o *Orchestrator) failAndShutdown(ctx context.Context, coord *Coordinator, phase Phase, procs []ProcessHandle, err error) (*Result, error) {
	res := o.fail(ctx, phase, err)
	fmt.Fprintln(o.out, "BLAST shutting down...")
	report := coord.Shutdown(ctx, nil, procs)
	res.Shutdown = &report
	return res, err
}
