//go:build windows

package token

import (
	"os"
	"os/signal"
)

// notifySignals registers Ctrl+C only; Windows has no SIGTERM.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
