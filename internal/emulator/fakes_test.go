package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/interop-sim/model"
)

type fakeProc struct {
	name string

	mu           sync.Mutex
	interrupts   int
	interruptErr error
	once         sync.Once
	done         chan struct{}
}

func newFakeProc(name string) *fakeProc {
	return &fakeProc{name: name, done: make(chan struct{})}
}

func (p *fakeProc) Name() string { return p.name }

func (p *fakeProc) Interrupt() error {
	p.mu.Lock()
	p.interrupts++
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return p.interruptErr
}

func (p *fakeProc) Wait() (int, error) {
	select {
	case <-p.done:
		return 0, nil
	case <-time.After(5 * time.Second):
		return -1, errors.New("fake process never interrupted")
	}
}

func (p *fakeProc) interruptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupts
}

type fakeLauncher struct {
	mu       sync.Mutex
	specs    []LaunchSpec
	procs    []*fakeProc
	failKind model.NodeKind
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if spec.Kind == l.failKind {
		return nil, fmt.Errorf("model %s missing", spec.Kind)
	}
	p := newFakeProc(string(spec.Kind))
	l.procs = append(l.procs, p)
	return p, nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
