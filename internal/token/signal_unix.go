//go:build !windows

package token

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals registers both SIGINT and SIGTERM.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
