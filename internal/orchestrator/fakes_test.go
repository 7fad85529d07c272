package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/interop-sim/internal/token"
	"github.com/signalsfoundry/interop-sim/model"
)

var errBoom = errors.New("boom")

// fakeNetwork records every call in order and fails the failAt-th call of
// failPhase.
type fakeNetwork struct {
	mu    sync.Mutex
	calls []string
	seen  map[Phase]int

	failPhase Phase
	failAt    int

	procs   []ProcessHandle
	tasks   *fakeTasks
	stopErr error

	tok          *token.Token
	stopSimCalls int
	stopNetCalls int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		seen:  make(map[Phase]int),
		procs: []ProcessHandle{&fakeProcess{name: "blast_lnd"}, &fakeProcess{name: "blast_ldk"}},
		tasks: &fakeTasks{results: []TaskResult{{Name: "activity-0"}, {Name: "events"}}},
	}
}

func (f *fakeNetwork) failing(phase Phase, at int) *fakeNetwork {
	f.failPhase = phase
	f.failAt = at
	return f
}

func (f *fakeNetwork) record(phase Phase, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.seen[phase]
	f.seen[phase]++
	f.calls = append(f.calls, fmt.Sprintf("%s:%s", phase, detail))
	if phase == f.failPhase && idx == f.failAt {
		return errBoom
	}
	return nil
}

func (f *fakeNetwork) count(phase Phase) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[phase]
}

func (f *fakeNetwork) CreateNetwork(_ context.Context, name string, counts map[model.NodeKind]int, tok *token.Token) ([]ProcessHandle, error) {
	f.tok = tok
	if err := f.record(PhaseCreateNetwork, name); err != nil {
		return nil, err
	}
	return f.procs, nil
}

func (f *fakeNetwork) ConnectPeer(_ context.Context, c model.Connection) error {
	return f.record(PhaseConnect, c.String())
}

func (f *fakeNetwork) FundNode(_ context.Context, fu model.Funding) error {
	return f.record(PhaseFund, fu.String())
}

func (f *fakeNetwork) OpenChannel(_ context.Context, c model.ChannelSpec) error {
	return f.record(PhaseOpenChannels, c.String())
}

func (f *fakeNetwork) AddActivity(_ context.Context, a model.ActivitySpec) error {
	return f.record(PhaseActivity, a.String())
}

func (f *fakeNetwork) AddEvent(_ context.Context, e model.EventSpec) error {
	return f.record(PhaseEvents, e.String())
}

func (f *fakeNetwork) FinalizeSimulation(context.Context) error {
	return f.record(PhaseFinalize, "")
}

func (f *fakeNetwork) StartSimulation(context.Context) (TaskSet, error) {
	if err := f.record(PhaseStart, ""); err != nil {
		return nil, err
	}
	return f.tasks, nil
}

func (f *fakeNetwork) StopSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopSimCalls++
	f.calls = append(f.calls, "stop_simulation")
}

func (f *fakeNetwork) StopNetwork(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopNetCalls++
	f.calls = append(f.calls, "stop_network")
	return f.stopErr
}

type fakeProcess struct {
	name   string
	code   int
	err    error
	waited int
}

func (p *fakeProcess) Name() string { return p.name }

func (p *fakeProcess) Wait() (int, error) {
	p.waited++
	return p.code, p.err
}

type fakeTasks struct {
	results []TaskResult
	joined  int
}

func (t *fakeTasks) JoinNext() (TaskResult, bool) {
	if t.joined >= len(t.results) {
		return TaskResult{}, false
	}
	r := t.results[t.joined]
	t.joined++
	return r, true
}

// scriptedPauser records prompts and optionally stops the token on a given
// pause, the way an interrupt would.
type scriptedPauser struct {
	prompts []string
	stopOn  int // 1-based pause number; 0 never stops
}

func (p *scriptedPauser) Pause(_ context.Context, prompt string, tok *token.Token) error {
	p.prompts = append(p.prompts, prompt)
	if p.stopOn == len(p.prompts) {
		tok.Stop()
	}
	return nil
}

type recordingMetrics struct {
	noopMetrics
	states   []int
	failures []string
	exits    int
	joins    int
}

func (m *recordingMetrics) SetLifecycleState(s int)  { m.states = append(m.states, s) }
func (m *recordingMetrics) IncSetupFailure(p string) { m.failures = append(m.failures, p) }
func (m *recordingMetrics) IncProcessExit(error)     { m.exits++ }
func (m *recordingMetrics) IncTaskJoin(error)        { m.joins++ }
