package orchestrator

import "fmt"

// State is the lifecycle position of a run.
type State int

const (
	StateIdle State = iota
	StateNetworkCreated
	StatePeersConnected
	StateFunded
	StateChannelsOpened
	StateActivityAdded
	StateEventsAdded
	StateFinalized
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "Idle",
	StateNetworkCreated: "NetworkCreated",
	StatePeersConnected: "PeersConnected",
	StateFunded:         "Funded",
	StateChannelsOpened: "ChannelsOpened",
	StateActivityAdded:  "ActivityAdded",
	StateEventsAdded:    "EventsAdded",
	StateFinalized:      "Finalized",
	StateRunning:        "Running",
	StateStopping:       "Stopping",
	StateStopped:        "Stopped",
	StateFailed:         "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
