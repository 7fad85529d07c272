package emulator

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/interop-sim/internal/orchestrator"
)

// taskGroup is the TaskSet handed back by StartSimulation.
type taskGroup struct {
	results chan orchestrator.TaskResult

	mu        sync.Mutex
	spawned   int
	remaining int
}

func newTaskGroup(capacity int) *taskGroup {
	return &taskGroup{results: make(chan orchestrator.TaskResult, capacity)}
}

// spawn must not be called once the group has been handed out.
func (g *taskGroup) spawn(name string, fn func() error) {
	g.mu.Lock()
	g.spawned++
	g.remaining++
	g.mu.Unlock()

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
			g.results <- orchestrator.TaskResult{Name: name, Err: err}
		}()
		err = fn()
	}()
}

// JoinNext implements orchestrator.TaskSet.
func (g *taskGroup) JoinNext() (orchestrator.TaskResult, bool) {
	g.mu.Lock()
	if g.remaining == 0 {
		g.mu.Unlock()
		return orchestrator.TaskResult{}, false
	}
	g.remaining--
	g.mu.Unlock()
	return <-g.results, true
}

// Len reports how many tasks were spawned.
func (g *taskGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spawned
}
