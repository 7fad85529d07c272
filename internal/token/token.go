// Package token holds the cooperative stop signal shared by the interrupt
// handler, the lifecycle orchestrator and the network core. Nothing is ever
// preempted: long-running loops poll Running or select on Done.
package token

import (
	"sync"
	"sync/atomic"
)

// Token is a shared run flag. It starts out running and can be stopped once;
// it is never restarted.
type Token struct {
	running atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// New returns a running token.
func New() *Token {
	t := &Token{done: make(chan struct{})}
	t.running.Store(true)
	return t
}

// Running reports whether the token has not been stopped yet.
func (t *Token) Running() bool {
	return t.running.Load()
}

// Stop clears the token. It never blocks and is safe to call from any
// goroutine any number of times; only the first call returns true.
func (t *Token) Stop() bool {
	flipped := t.running.CompareAndSwap(true, false)
	t.once.Do(func() { close(t.done) })
	return flipped
}

// Done is closed once the token has been stopped.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
