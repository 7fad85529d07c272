package model

// Topology is the full, ordered instruction set generated for one scenario.
// It is built once before any network call and treated as read-only after.
type Topology struct {
	Name  string
	Nodes []KindCount

	Connections []Connection
	Fundings    []Funding
	Channels    []ChannelSpec
	Activities  []ActivitySpec
	Events      []EventSpec

	// PauseBeforeFinalize asks the operator to acknowledge the prepared
	// network before the simulation is finalized.
	PauseBeforeFinalize bool
}

// NodeCounts returns the kind -> count mapping handed to network creation.
func (t *Topology) NodeCounts() map[NodeKind]int {
	counts := make(map[NodeKind]int, len(t.Nodes))
	for _, kc := range t.Nodes {
		counts[kc.Kind] += kc.Count
	}
	return counts
}

// AnnounceChannel returns the channel marked for announcement, if any.
func (t *Topology) AnnounceChannel() (ChannelSpec, bool) {
	for _, ch := range t.Channels {
		if ch.Announce {
			return ch, true
		}
	}
	return ChannelSpec{}, false
}
