package token

import (
	"context"
	"os"
	"os/signal"

	"github.com/signalsfoundry/interop-sim/internal/logging"
)

// HandleInterrupt stops tok when the process receives an interrupt (and
// SIGTERM where the platform has it). The returned function unregisters the
// handler.
func HandleInterrupt(tok *Token, log logging.Logger) (release func()) {
	if log == nil {
		log = logging.Noop()
	}
	ch := make(chan os.Signal, 1)
	notifySignals(ch)

	quit := make(chan struct{})
	go watch(ch, quit, tok, log)

	return func() {
		signal.Stop(ch)
		close(quit)
	}
}

func watch(signals <-chan os.Signal, quit <-chan struct{}, tok *Token, log logging.Logger) {
	for {
		select {
		case <-quit:
			return
		case sig := <-signals:
			if tok.Stop() {
				log.Info(context.Background(), "interrupt received, stopping", logging.String("signal", sig.String()))
			}
		}
	}
}
