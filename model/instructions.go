package model

import (
	"fmt"
	"time"
)

// SatsPerBTC converts funding amounts (BTC) to channel units (satoshis).
const SatsPerBTC = 100_000_000

// Connection instructs the network to establish a peer link between A and B.
type Connection struct {
	A NodeRef
	B NodeRef
}

func (c Connection) String() string {
	return fmt.Sprintf("%s <-> %s", c.A.Name(), c.B.Name())
}

// Funding gives a node on-chain balance. The final funding of a batch asks the
// network to confirm everything funded so far.
type Funding struct {
	Node   NodeRef
	Amount float64 // BTC
	Final  bool
}

func (f Funding) String() string {
	return fmt.Sprintf("%s %.8f BTC final=%t", f.Node.Name(), f.Amount, f.Final)
}

// ChannelSpec opens a payment channel from Opener to Peer.
type ChannelSpec struct {
	ID       uint64
	Opener   NodeRef
	Peer     NodeRef
	Capacity uint64 // sats
	Push     uint64 // sats pushed to Peer at open
	Announce bool
}

func (c ChannelSpec) String() string {
	return fmt.Sprintf("channel %d %s -> %s capacity=%d push=%d announce=%t",
		c.ID, c.Opener.Name(), c.Peer.Name(), c.Capacity, c.Push, c.Announce)
}

// ActivitySpec is a recurring synthetic payment from Source to Destination.
// Nil amount bounds defer to the network's defaults. A zero Count repeats
// until the simulation stops.
type ActivitySpec struct {
	Source      NodeRef
	Destination NodeRef
	MinAmount   *uint64 // sats
	MaxAmount   *uint64 // sats
	Count       int
	Interval    time.Duration
}

func (a ActivitySpec) String() string {
	return fmt.Sprintf("activity %s -> %s min=%s max=%s count=%d interval=%s",
		a.Source.Name(), a.Destination.Name(), optAmount(a.MinAmount), optAmount(a.MaxAmount), a.Count, a.Interval)
}

// Amount is a helper for building optional amount bounds.
func Amount(sats uint64) *uint64 { return &sats }

func optAmount(v *uint64) string {
	if v == nil {
		return "default"
	}
	return fmt.Sprintf("%d", *v)
}
