package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/interop-sim/internal/token"
	"github.com/signalsfoundry/interop-sim/internal/topology"
	"github.com/signalsfoundry/interop-sim/model"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func generate(t *testing.T, d topology.Descriptor) *model.Topology {
	t.Helper()
	topo, err := topology.Generate(d)
	if err != nil {
		t.Fatalf("Generate(%s): %v", d.Name, err)
	}
	return topo
}

// phaseOf maps a recorded call back to its phase.
func phaseOf(call string) string {
	if i := strings.IndexByte(call, ':'); i >= 0 {
		return call[:i]
	}
	return call
}

func TestRunSmallScenarioHappyPath(t *testing.T) {
	topo := generate(t, topology.Small())
	net := newFakeNetwork()
	tok := token.New()
	pauser := &scriptedPauser{}
	metrics := &recordingMetrics{}
	var out bytes.Buffer

	o := New(net, topo, tok, WithPauser(pauser), WithCollector(metrics), WithOutput(&out))
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateStopped || o.State() != StateStopped {
		t.Fatalf("state = %s/%s, want Stopped", res.State, o.State())
	}

	wantCounts := map[Phase]int{
		PhaseCreateNetwork: 1,
		PhaseConnect:       6,
		PhaseFund:          6,
		PhaseOpenChannels:  6,
		PhaseActivity:      4,
		PhaseEvents:        0,
		PhaseFinalize:      1,
		PhaseStart:         1,
	}
	for phase, want := range wantCounts {
		if got := net.count(phase); got != want {
			t.Fatalf("%s calls = %d, want %d", phase, got, want)
		}
	}

	// Phases never interleave and follow the fixed order.
	order := []string{
		string(PhaseCreateNetwork), string(PhaseConnect), string(PhaseFund),
		string(PhaseOpenChannels), string(PhaseActivity), string(PhaseFinalize),
		string(PhaseStart), "stop_simulation", "stop_network",
	}
	pos := 0
	for _, call := range net.calls {
		p := phaseOf(call)
		for pos < len(order) && order[pos] != p {
			pos++
		}
		if pos == len(order) {
			t.Fatalf("call %q out of phase order; calls = %v", call, net.calls)
		}
	}

	if len(pauser.prompts) != 2 {
		t.Fatalf("pauses = %d, want 2 (before finalize and while running)", len(pauser.prompts))
	}
	if res.Shutdown == nil || res.Shutdown.TasksJoined != 2 || len(res.Shutdown.Processes) != 2 {
		t.Fatalf("unexpected shutdown report %+v", res.Shutdown)
	}
	if tok.Running() {
		t.Fatalf("token still running after shutdown")
	}
	if net.tok != tok {
		t.Fatalf("network did not receive the run token")
	}
	if got := metrics.states[len(metrics.states)-1]; got != int(StateStopped) {
		t.Fatalf("last exported state = %d, want %d", got, StateStopped)
	}
	for _, msg := range []string{"Connecting peers...", "Funding nodes...", "Opening channels...", "Model process exited with status: 0"} {
		if !strings.Contains(out.String(), msg) {
			t.Fatalf("output missing %q:\n%s", msg, out.String())
		}
	}
}

func TestRunFailsFastAndShutsDownOnce(t *testing.T) {
	tests := []struct {
		name  string
		desc  topology.Descriptor
		phase Phase
		at    int
	}{
		{name: "first connect", desc: topology.Small(), phase: PhaseConnect, at: 0},
		{name: "third funding", desc: topology.Small(), phase: PhaseFund, at: 2},
		{name: "last channel", desc: topology.Small(), phase: PhaseOpenChannels, at: 5},
		{name: "activity", desc: topology.Small(), phase: PhaseActivity, at: 1},
		{name: "event", desc: topology.Simple(), phase: PhaseEvents, at: 0},
		{name: "finalize", desc: topology.Simple(), phase: PhaseFinalize, at: 0},
		{name: "start", desc: topology.Simple(), phase: PhaseStart, at: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := newFakeNetwork().failing(tt.phase, tt.at)
			tok := token.New()
			metrics := &recordingMetrics{}
			o := New(net, generate(t, tt.desc), tok, WithCollector(metrics))

			res, err := o.Run(context.Background())
			if err == nil {
				t.Fatalf("Run succeeded, want failure in %s", tt.phase)
			}
			var setupErr *SetupError
			if !errors.As(err, &setupErr) {
				t.Fatalf("error %v is not a SetupError", err)
			}
			if setupErr.Phase != tt.phase || !errors.Is(err, errBoom) {
				t.Fatalf("SetupError = %+v, want phase %s wrapping errBoom", setupErr, tt.phase)
			}
			if setupErr.Index >= 0 && setupErr.Index != tt.at {
				t.Fatalf("SetupError.Index = %d, want %d", setupErr.Index, tt.at)
			}
			if res.State != StateFailed {
				t.Fatalf("state = %s, want Failed", res.State)
			}

			// Nothing after the failing call except teardown.
			failIdx := -1
			for i, call := range net.calls {
				if phaseOf(call) == string(tt.phase) {
					failIdx = i
				}
			}
			rest := net.calls[failIdx+1:]
			if len(rest) != 1 || rest[0] != "stop_network" {
				t.Fatalf("calls after failure = %v, want [stop_network]", rest)
			}
			if net.count(tt.phase) != tt.at+1 {
				t.Fatalf("%s calls = %d, want %d", tt.phase, net.count(tt.phase), tt.at+1)
			}
			if net.stopSimCalls != 0 || net.stopNetCalls != 1 {
				t.Fatalf("stop_simulation=%d stop_network=%d, want 0 and 1", net.stopSimCalls, net.stopNetCalls)
			}
			if res.Shutdown == nil || res.Shutdown.TasksJoined != 0 || len(res.Shutdown.Processes) != 2 {
				t.Fatalf("unexpected shutdown report %+v", res.Shutdown)
			}
			if tok.Running() {
				t.Fatalf("token still running after failed run")
			}
			if len(metrics.failures) != 1 || metrics.failures[0] != string(tt.phase) {
				t.Fatalf("setup failures = %v, want [%s]", metrics.failures, tt.phase)
			}
		})
	}
}

func TestRunNetworkCreationFailureStillShutsDown(t *testing.T) {
	net := newFakeNetwork().failing(PhaseCreateNetwork, 0)
	tok := token.New()
	metrics := &recordingMetrics{}
	var out bytes.Buffer

	res, err := New(net, generate(t, topology.Simple()), tok, WithOutput(&out), WithCollector(metrics)).Run(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Phase != PhaseCreateNetwork {
		t.Fatalf("err = %v, want create_network SetupError", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s, want Failed", res.State)
	}
	if res.Shutdown == nil {
		t.Fatalf("shutdown report missing after network creation failure")
	}
	if net.stopSimCalls != 0 || net.stopNetCalls != 1 {
		t.Fatalf("stop_simulation=%d stop_network=%d, want 0 and 1", net.stopSimCalls, net.stopNetCalls)
	}
	if len(res.Shutdown.Processes) != 0 || res.Shutdown.TasksJoined != 0 {
		t.Fatalf("unexpected shutdown report %+v", res.Shutdown)
	}
	if tok.Running() {
		t.Fatalf("token still running after failed network creation")
	}
	if net.count(PhaseConnect) != 0 {
		t.Fatalf("setup continued after network creation failure: %v", net.calls)
	}
	if len(metrics.failures) != 1 || metrics.failures[0] != string(PhaseCreateNetwork) {
		t.Fatalf("setup failures = %v, want [%s]", metrics.failures, PhaseCreateNetwork)
	}
	text := out.String()
	if !strings.Contains(text, "Failed to start network: boom") || !strings.Contains(text, "BLAST shutting down...") {
		t.Fatalf("output = %q", text)
	}
}

func TestRunInterruptedBeforeFinalize(t *testing.T) {
	net := newFakeNetwork()
	tok := token.New()
	pauser := &scriptedPauser{stopOn: 1}

	res, err := New(net, generate(t, topology.Small()), tok, WithPauser(pauser)).Run(context.Background())
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s, want Failed", res.State)
	}
	if net.count(PhaseFinalize) != 0 || net.count(PhaseStart) != 0 {
		t.Fatalf("finalize/start called after interrupt: %v", net.calls)
	}
	if net.stopNetCalls != 1 {
		t.Fatalf("stop_network calls = %d, want 1", net.stopNetCalls)
	}
}

func TestRunInterruptWhileRunningStopsCleanly(t *testing.T) {
	net := newFakeNetwork()
	tok := token.New()
	// Simple has no finalize pause, so the first pause is the running one.
	pauser := &scriptedPauser{stopOn: 1}

	res, err := New(net, generate(t, topology.Simple()), tok, WithPauser(pauser)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateStopped {
		t.Fatalf("state = %s, want Stopped", res.State)
	}
	if net.stopSimCalls != 1 || net.tasks.joined != 2 {
		t.Fatalf("stop_simulation=%d joined=%d, want 1 and 2", net.stopSimCalls, net.tasks.joined)
	}
}

func TestRunCancelledContextIsInterrupt(t *testing.T) {
	net := newFakeNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(net, generate(t, topology.Simple()), token.New()).Run(ctx)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrInterrupted wrapping context.Canceled", err)
	}
	if net.count(PhaseCreateNetwork) != 0 {
		t.Fatalf("network created despite cancelled context")
	}
	if net.stopNetCalls != 1 {
		t.Fatalf("stop_network calls = %d, want 1", net.stopNetCalls)
	}
}

func TestRunIsSingleUse(t *testing.T) {
	o := New(newFakeNetwork(), generate(t, topology.Simple()), token.New())
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := o.Run(context.Background()); err == nil {
		t.Fatalf("second Run succeeded, want error")
	}
}

func TestRunRecordsPhaseSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	net := newFakeNetwork().failing(PhaseOpenChannels, 0)

	_, _ = New(net, generate(t, topology.Simple()), token.New(), WithTracer(tp.Tracer("test"))).Run(context.Background())

	spans := sr.Ended()
	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
	}
	want := []string{"phase/create_network", "phase/connect", "phase/fund", "phase/open_channels"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("spans = %v, want %v", names, want)
	}
	if got := spans[len(spans)-1].Status().Code; got != codes.Error {
		t.Fatalf("failing span status = %v, want Error", got)
	}
}

func TestStateString(t *testing.T) {
	if StateChannelsOpened.String() != "ChannelsOpened" {
		t.Fatalf("String() = %q", StateChannelsOpened.String())
	}
	if State(42).String() != "State(42)" {
		t.Fatalf("unknown state String() = %q", State(42).String())
	}
	if !StateFailed.Terminal() || StateRunning.Terminal() {
		t.Fatalf("Terminal() mismatch")
	}
}
