// Package emulator is an in-process network simulation core. It launches one
// model process per node kind, keeps an in-memory ledger of peers, wallets
// and channels, and runs payment activity and scripted events on a simulated
// clock once started. Every loop it runs watches the cancellation token.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/interop-sim/internal/logging"
	"github.com/signalsfoundry/interop-sim/internal/orchestrator"
	"github.com/signalsfoundry/interop-sim/internal/sched"
	"github.com/signalsfoundry/interop-sim/internal/token"
	"github.com/signalsfoundry/interop-sim/model"
	"github.com/signalsfoundry/interop-sim/timectrl"
)

// Default payment bounds when an activity leaves them unset.
const (
	DefaultMinAmount uint64 = 1
	DefaultMaxAmount uint64 = 1_000
)

var (
	// ErrNoNetwork indicates an operation before CreateNetwork.
	ErrNoNetwork = errors.New("network not created")
	// ErrNetworkExists indicates a second CreateNetwork.
	ErrNetworkExists = errors.New("network already created")
	// ErrFinalized indicates a registration after FinalizeSimulation.
	ErrFinalized = errors.New("simulation already finalized")
	// ErrNotFinalized indicates StartSimulation before FinalizeSimulation.
	ErrNotFinalized = errors.New("simulation not finalized")
	// ErrAlreadyStarted indicates a second StartSimulation.
	ErrAlreadyStarted = errors.New("simulation already started")
	// ErrInvalidActivity indicates a malformed activity registration.
	ErrInvalidActivity = errors.New("invalid activity")
)

// Config tunes the emulator.
type Config struct {
	RuntimeDir   string
	BaseRPCPort  int
	Probe        bool
	ProbeTimeout time.Duration
	Tick         time.Duration
	Mode         timectrl.Mode
	Seed         uint64
}

// MetricsRecorder receives emulator activity. observability.SimCollector
// implements it.
type MetricsRecorder interface {
	IncPayment(err error)
	IncEvent(kind string)
}

type noopMetrics struct{}

func (noopMetrics) IncPayment(error) {}
func (noopMetrics) IncEvent(string)  {}

// Option customises an Emulator.
type Option func(*Emulator)

// WithLogger sets the structured logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Emulator) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Emulator) {
		if m != nil {
			e.metrics = m
		}
	}
}

var _ orchestrator.Network = (*Emulator)(nil)

// Emulator implements orchestrator.Network.
type Emulator struct {
	cfg      Config
	launcher Launcher
	log      logging.Logger
	metrics  MetricsRecorder
	stats    Stats

	mu         sync.Mutex
	id         string
	tok        *token.Token
	procs      []Process
	ledger     *ledger
	activities []model.ActivitySpec
	events     []model.EventSpec
	finalized  bool
	started    bool
	clock      *timectrl.TimeController
	stopRun    context.CancelFunc
}

// New builds an emulator that launches model processes through launcher.
func New(cfg Config, launcher Launcher, opts ...Option) *Emulator {
	if cfg.BaseRPCPort == 0 {
		cfg.BaseRPCPort = 10_000
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	e := &Emulator{
		cfg:      cfg,
		launcher: launcher,
		log:      logging.Noop(),
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ID returns the network instance id, empty before CreateNetwork.
func (e *Emulator) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Stats returns the emulator's counters.
func (e *Emulator) Stats() StatsSnapshot { return e.stats.Snapshot() }

// CreateNetwork launches one model process per kind, in model.Kinds order.
// If any launch or probe fails, the processes already started are
// interrupted and reaped before the error is returned.
func (e *Emulator) CreateNetwork(ctx context.Context, name string, counts map[model.NodeKind]int, tok *token.Token) ([]orchestrator.ProcessHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger != nil {
		return nil, ErrNetworkExists
	}
	if tok == nil {
		return nil, errors.New("cancellation token is nil")
	}
	for kind, count := range counts {
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown node kind %q", kind)
		}
		if count <= 0 || count > model.MaxNodeIndex+1 {
			return nil, fmt.Errorf("node count %d for %s out of range", count, kind)
		}
	}

	id := uuid.NewString()
	log := e.log.With(logging.String("network", name), logging.String("network_id", id))

	var procs []Process
	for i, kind := range model.Kinds() {
		count := counts[kind]
		if count == 0 {
			continue
		}
		spec := LaunchSpec{
			Network: name,
			Kind:    kind,
			Count:   count,
			RPCAddr: fmt.Sprintf("127.0.0.1:%d", e.cfg.BaseRPCPort+i),
		}
		if e.cfg.RuntimeDir != "" {
			spec.DataDir = filepath.Join(e.cfg.RuntimeDir, name, string(kind))
		}

		proc, err := e.launcher.Launch(ctx, spec)
		if err == nil && e.cfg.Probe {
			if perr := probeHealth(ctx, spec.RPCAddr, e.cfg.ProbeTimeout); perr != nil {
				procs = append(procs, proc)
				err = perr
			}
		}
		if err != nil {
			reap(procs)
			return nil, fmt.Errorf("launch %s: %w", kind, err)
		}
		procs = append(procs, proc)
		log.Info(ctx, "model started",
			logging.String("kind", string(kind)),
			logging.Int("nodes", count),
			logging.String("rpc_addr", spec.RPCAddr),
		)
	}
	if len(procs) == 0 {
		return nil, errors.New("no nodes requested")
	}

	l := newLedger()
	for _, kind := range model.Kinds() {
		for i := 0; i < counts[kind]; i++ {
			l.addNode(model.Node(kind, i))
		}
	}

	e.id = id
	e.tok = tok
	e.procs = procs
	e.ledger = l
	e.log = log

	handles := make([]orchestrator.ProcessHandle, len(procs))
	for i, p := range procs {
		handles[i] = p
	}
	return handles, nil
}

func reap(procs []Process) {
	for _, p := range procs {
		_ = p.Interrupt()
		_, _ = p.Wait()
	}
}

// withLedger runs fn under the emulator lock once the network exists.
func (e *Emulator) withLedger(fn func(*ledger) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ledger == nil {
		return ErrNoNetwork
	}
	return fn(e.ledger)
}

func (e *Emulator) ConnectPeer(ctx context.Context, c model.Connection) error {
	err := e.withLedger(func(l *ledger) error { return l.connect(c.A, c.B) })
	if err == nil {
		e.log.Debug(ctx, "peers connected", logging.String("a", c.A.Name()), logging.String("b", c.B.Name()))
	}
	return err
}

func (e *Emulator) FundNode(ctx context.Context, f model.Funding) error {
	err := e.withLedger(func(l *ledger) error { return l.fund(f) })
	if err == nil && f.Final {
		e.log.Debug(ctx, "funding batch confirmed", logging.String("last", f.Node.Name()))
	}
	return err
}

func (e *Emulator) OpenChannel(ctx context.Context, c model.ChannelSpec) error {
	err := e.withLedger(func(l *ledger) error { return l.openChannel(c) })
	if err != nil {
		return err
	}
	e.stats.incChannelsOpened()
	if c.Announce {
		e.log.Info(ctx, "announce channel opened", logging.Any("channel_id", c.ID))
	}
	return nil
}

func (e *Emulator) AddActivity(_ context.Context, a model.ActivitySpec) error {
	return e.withLedger(func(l *ledger) error {
		if e.finalized {
			return ErrFinalized
		}
		if _, _, err := l.pair(a.Source, a.Destination); err != nil {
			return err
		}
		if a.Count < 0 || a.Interval <= 0 {
			return fmt.Errorf("%w: count %d interval %s", ErrInvalidActivity, a.Count, a.Interval)
		}
		if a.MinAmount != nil && a.MaxAmount != nil && *a.MinAmount > *a.MaxAmount {
			return fmt.Errorf("%w: min %d above max %d", ErrInvalidActivity, *a.MinAmount, *a.MaxAmount)
		}
		e.activities = append(e.activities, a)
		return nil
	})
}

func (e *Emulator) AddEvent(_ context.Context, ev model.EventSpec) error {
	return e.withLedger(func(l *ledger) error {
		if e.finalized {
			return ErrFinalized
		}
		if ev.Event == nil || ev.Offset < 0 {
			return fmt.Errorf("malformed event %+v", ev)
		}
		for _, ref := range ev.Event.Nodes() {
			if _, err := l.node(ref); err != nil {
				return err
			}
		}
		e.events = append(e.events, ev)
		return nil
	})
}

// FinalizeSimulation checks that every activity has a route and every
// channel an event closes is opened either up front or by an earlier event.
func (e *Emulator) FinalizeSimulation(ctx context.Context) error {
	err := e.withLedger(func(l *ledger) error {
		if e.finalized {
			return ErrFinalized
		}
		for i, a := range e.activities {
			if _, err := l.route(a.Source, a.Destination, 0); err != nil {
				return fmt.Errorf("activity %d: %w", i, err)
			}
		}
		known := make(map[uint64]bool)
		for _, id := range l.channelIDs() {
			known[id] = true
		}
		for _, ev := range e.events {
			if open, ok := ev.Event.(model.OpenChannelEvent); ok {
				known[open.Channel.ID] = true
			}
		}
		for i, ev := range e.events {
			if cl, ok := ev.Event.(model.CloseChannelEvent); ok && !known[cl.ChannelID] {
				return fmt.Errorf("event %d: %w: %d", i, ErrUnknownChannel, cl.ChannelID)
			}
		}
		e.finalized = true
		return nil
	})
	if err == nil {
		e.log.Info(ctx, "simulation finalized",
			logging.Int("activities", len(e.activities)),
			logging.Int("events", len(e.events)),
		)
	}
	return err
}

// StartSimulation starts a clock task, one task per activity and, when
// events are registered, an events task. All of them stop on StopSimulation
// or when the token is stopped.
func (e *Emulator) StartSimulation(ctx context.Context) (orchestrator.TaskSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.ledger == nil:
		return nil, ErrNoNetwork
	case !e.finalized:
		return nil, ErrNotFinalized
	case e.started:
		return nil, ErrAlreadyStarted
	}
	e.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stopRun = cancel
	tok := e.tok
	go func() {
		select {
		case <-tok.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	clock := timectrl.NewTimeController(time.Now().UTC(), e.cfg.Tick, e.cfg.Mode)
	scheduler := sched.NewEventScheduler(clock)
	clock.AddListener(func(time.Time) { scheduler.RunDue() })
	e.clock = clock

	// Offsets and intervals count from here. Events are scheduled before the
	// clock task exists so none of them can be placed late.
	start := clock.Now()
	var fired <-chan error
	if len(e.events) > 0 {
		fired = e.scheduleEvents(runCtx, start, e.events, scheduler, clock)
	}

	group := newTaskGroup(len(e.activities) + 2)
	group.spawn("clock", func() error {
		<-clock.Start(runCtx, 0)
		return nil
	})
	for i, a := range e.activities {
		first := clock.At(start.Add(a.Interval))
		group.spawn(fmt.Sprintf("activity-%d", i), func() error {
			return e.runActivity(runCtx, i, a, start, first, clock)
		})
	}
	if fired != nil {
		n := len(e.events)
		group.spawn("events", func() error {
			return awaitEvents(runCtx, n, fired)
		})
	}

	e.log.Info(ctx, "simulation started", logging.Int("tasks", group.Len()))
	return group, nil
}

// StopSimulation cancels every running task. It is safe to call at any time.
func (e *Emulator) StopSimulation() {
	e.mu.Lock()
	stop := e.stopRun
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// StopNetwork interrupts every model process. Processes are reaped by their
// owners through Wait.
func (e *Emulator) StopNetwork(ctx context.Context) error {
	e.StopSimulation()

	e.mu.Lock()
	procs := e.procs
	e.procs = nil
	if e.ledger != nil {
		for _, n := range e.ledger.nodes {
			n.online = false
		}
	}
	e.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if err := p.Interrupt(); err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Info(ctx, "network stopped",
		logging.Int("processes", len(procs)),
		logging.String("stats", e.stats.String()),
	)
	return errors.Join(errs...)
}

// runActivity pays at start+Interval, start+2*Interval and so on, so a task
// that is scheduled late catches up instead of shifting the whole series.
// first is the already registered timer for the first payment.
func (e *Emulator) runActivity(ctx context.Context, idx int, a model.ActivitySpec, start time.Time, first <-chan time.Time, clock *timectrl.TimeController) error {
	lo, hi := DefaultMinAmount, DefaultMaxAmount
	if a.MinAmount != nil {
		lo = *a.MinAmount
	}
	if a.MaxAmount != nil {
		hi = *a.MaxAmount
	}
	if lo == 0 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	rng := rand.New(rand.NewPCG(e.cfg.Seed, uint64(idx)))

	due := first
	for sent := 0; a.Count == 0 || sent < a.Count; sent++ {
		if sent > 0 {
			due = clock.At(start.Add(time.Duration(sent+1) * a.Interval))
		}
		var now time.Time
		select {
		case <-ctx.Done():
			return nil
		case now = <-due:
		}

		amount := lo + rng.Uint64N(hi-lo+1)
		var hops int
		err := e.withLedger(func(l *ledger) error {
			var perr error
			hops, perr = l.pay(a.Source, a.Destination, amount)
			return perr
		})
		e.stats.recordPayment(hops, err)
		e.metrics.IncPayment(err)
		if err == nil {
			e.log.Debug(ctx, "payment sent",
				logging.String("source", a.Source.Name()),
				logging.String("destination", a.Destination.Name()),
				logging.Any("amount", amount),
				logging.Int("hops", hops),
				logging.Duration("sim_elapsed", now.Sub(start)),
			)
		} else {
			e.log.Debug(ctx, "payment failed",
				logging.String("source", a.Source.Name()),
				logging.String("destination", a.Destination.Name()),
				logging.Any("amount", amount),
				logging.Err(err),
			)
		}
	}
	return nil
}

// scheduleEvents places every event at start plus its offset. The returned
// channel receives one result per fired event.
func (e *Emulator) scheduleEvents(ctx context.Context, start time.Time, events []model.EventSpec, s sched.EventScheduler, clock *timectrl.TimeController) <-chan error {
	fired := make(chan error, len(events))
	for _, ev := range events {
		s.Schedule(start.Add(ev.Offset), func() {
			err := e.fire(ctx, ev.Event, clock.Now().Sub(start))
			e.stats.recordEvent(err)
			e.metrics.IncEvent(string(ev.Event.Kind()))
			if err != nil {
				err = fmt.Errorf("%s: %w", ev, err)
			}
			fired <- err
		})
	}
	return fired
}

// awaitEvents waits until n events fired or the run stops. Failed events are
// reported together.
func awaitEvents(ctx context.Context, n int, fired <-chan error) error {
	var errs []error
	for range n {
		select {
		case <-ctx.Done():
			return errors.Join(errs...)
		case err := <-fired:
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Emulator) fire(ctx context.Context, ev model.Event, elapsed time.Duration) error {
	err := e.withLedger(func(l *ledger) error {
		switch v := ev.(type) {
		case model.CloseChannelEvent:
			return l.closeChannel(v.Node, v.ChannelID)
		case model.OpenChannelEvent:
			c := v.Channel
			if na, _, err := l.pair(c.Opener, c.Peer); err == nil && !na.peers[c.Peer.Name()] {
				if err := l.connect(c.Opener, c.Peer); err != nil {
					return err
				}
			}
			return l.openChannel(c)
		case model.StopNodeEvent:
			return l.setOnline(v.Node, false)
		case model.StartNodeEvent:
			return l.setOnline(v.Node, true)
		default:
			return fmt.Errorf("unsupported event %s", ev.Kind())
		}
	})
	if err == nil {
		switch ev.(type) {
		case model.CloseChannelEvent:
			e.stats.incChannelsClosed()
		case model.OpenChannelEvent:
			e.stats.incChannelsOpened()
		}
	}
	e.log.Info(ctx, "event fired",
		logging.String("kind", string(ev.Kind())),
		logging.Any("params", ev.Params()),
		logging.Bool("ok", err == nil),
		logging.Duration("sim_elapsed", elapsed),
	)
	return err
}
