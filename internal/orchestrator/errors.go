package orchestrator

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned when the cancellation token was observed
// stopped before setup completed.
var ErrInterrupted = errors.New("simulation interrupted")

// Phase names one step of the setup pipeline.
type Phase string

const (
	PhaseCreateNetwork Phase = "create_network"
	PhaseConnect       Phase = "connect"
	PhaseFund          Phase = "fund"
	PhaseOpenChannels  Phase = "open_channels"
	PhaseActivity      Phase = "activity"
	PhaseEvents        Phase = "events"
	PhaseFinalize      Phase = "finalize"
	PhaseStart         Phase = "start"
)

// SetupError reports the phase and instruction that failed before the
// simulation reached Running. Index is -1 for phases that are a single call.
type SetupError struct {
	Phase       Phase
	Index       int
	Instruction string
	Err         error
}

func (e *SetupError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s[%d] %s: %v", e.Phase, e.Index, e.Instruction, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
