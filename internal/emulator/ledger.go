package emulator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/interop-sim/model"
)

var (
	// ErrUnknownNode indicates a node name that was never launched.
	ErrUnknownNode = errors.New("unknown node")
	// ErrSelfReference indicates an operation naming the same node twice.
	ErrSelfReference = errors.New("node refers to itself")
	// ErrAlreadyConnected indicates a duplicate peer connection.
	ErrAlreadyConnected = errors.New("peers already connected")
	// ErrNotConnected indicates a channel open between unconnected peers.
	ErrNotConnected = errors.New("peers not connected")
	// ErrInsufficientFunds indicates a confirmed wallet balance below a channel's capacity.
	ErrInsufficientFunds = errors.New("insufficient confirmed funds")
	// ErrDuplicateChannel indicates a reused channel id.
	ErrDuplicateChannel = errors.New("channel id already used")
	// ErrUnknownChannel indicates a channel id that was never opened.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrChannelClosed indicates an operation on a closed channel.
	ErrChannelClosed = errors.New("channel closed")
	// ErrNotChannelParty indicates a node acting on a channel it is not part of.
	ErrNotChannelParty = errors.New("node is not a channel party")
	// ErrNoRoute indicates no path with enough liquidity between two nodes.
	ErrNoRoute = errors.New("no route")
	// ErrInvalidAmount indicates a non-positive funding or payment amount.
	ErrInvalidAmount = errors.New("invalid amount")
)

type node struct {
	ref       model.NodeRef
	online    bool
	confirmed float64 // BTC
	pending   float64 // BTC awaiting the batch's final funding
	peers     map[string]bool
}

// channel balances are in sats; local belongs to the opener.
type channel struct {
	spec   model.ChannelSpec
	opener string
	peer   string
	local  uint64
	remote uint64
	open   bool
}

func (c *channel) other(name string) (string, bool) {
	switch name {
	case c.opener:
		return c.peer, true
	case c.peer:
		return c.opener, true
	}
	return "", false
}

// outbound returns what name can send across c.
func (c *channel) outbound(name string) uint64 {
	if name == c.opener {
		return c.local
	}
	return c.remote
}

func (c *channel) move(from string, amount uint64) {
	if from == c.opener {
		c.local -= amount
		c.remote += amount
		return
	}
	c.remote -= amount
	c.local += amount
}

// ledger is the in-memory view of wallets, peers and channels. It is not
// safe for concurrent use; Emulator serialises access.
type ledger struct {
	nodes    map[string]*node
	channels map[uint64]*channel
	order    []uint64 // channel ids in open order
}

func newLedger() *ledger {
	return &ledger{
		nodes:    make(map[string]*node),
		channels: make(map[uint64]*channel),
	}
}

func (l *ledger) addNode(ref model.NodeRef) {
	l.nodes[ref.Name()] = &node{ref: ref, online: true, peers: make(map[string]bool)}
}

func (l *ledger) node(ref model.NodeRef) (*node, error) {
	n, ok := l.nodes[ref.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, ref.Name())
	}
	return n, nil
}

func (l *ledger) pair(a, b model.NodeRef) (*node, *node, error) {
	na, err := l.node(a)
	if err != nil {
		return nil, nil, err
	}
	nb, err := l.node(b)
	if err != nil {
		return nil, nil, err
	}
	if na == nb {
		return nil, nil, fmt.Errorf("%w: %s", ErrSelfReference, a.Name())
	}
	return na, nb, nil
}

func (l *ledger) connect(a, b model.NodeRef) error {
	na, nb, err := l.pair(a, b)
	if err != nil {
		return err
	}
	if na.peers[b.Name()] {
		return fmt.Errorf("%w: %s and %s", ErrAlreadyConnected, a.Name(), b.Name())
	}
	na.peers[b.Name()] = true
	nb.peers[a.Name()] = true
	return nil
}

// fund credits amount as pending; a final funding confirms every pending
// balance in the network.
func (l *ledger) fund(f model.Funding) error {
	if f.Amount <= 0 {
		return fmt.Errorf("%w: %v BTC", ErrInvalidAmount, f.Amount)
	}
	n, err := l.node(f.Node)
	if err != nil {
		return err
	}
	n.pending += f.Amount
	if f.Final {
		l.confirm()
	}
	return nil
}

func (l *ledger) confirm() {
	for _, n := range l.nodes {
		n.confirmed += n.pending
		n.pending = 0
	}
}

func (l *ledger) openChannel(spec model.ChannelSpec) error {
	opener, peer, err := l.pair(spec.Opener, spec.Peer)
	if err != nil {
		return err
	}
	if !opener.peers[peer.ref.Name()] {
		return fmt.Errorf("%w: %s and %s", ErrNotConnected, opener.ref.Name(), peer.ref.Name())
	}
	if _, dup := l.channels[spec.ID]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateChannel, spec.ID)
	}
	if spec.Capacity == 0 || spec.Push > spec.Capacity {
		return fmt.Errorf("%w: capacity %d push %d", ErrInvalidAmount, spec.Capacity, spec.Push)
	}
	need := float64(spec.Capacity) / model.SatsPerBTC
	if opener.confirmed < need {
		return fmt.Errorf("%w: %s has %.8f BTC, channel %d needs %.8f",
			ErrInsufficientFunds, opener.ref.Name(), opener.confirmed, spec.ID, need)
	}
	opener.confirmed -= need
	l.channels[spec.ID] = &channel{
		spec:   spec,
		opener: opener.ref.Name(),
		peer:   peer.ref.Name(),
		local:  spec.Capacity - spec.Push,
		remote: spec.Push,
		open:   true,
	}
	l.order = append(l.order, spec.ID)
	return nil
}

// closeChannel settles id back to both wallets.
func (l *ledger) closeChannel(by model.NodeRef, id uint64) error {
	if _, err := l.node(by); err != nil {
		return err
	}
	c, ok := l.channels[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	if !c.open {
		return fmt.Errorf("%w: %d", ErrChannelClosed, id)
	}
	if _, party := c.other(by.Name()); !party {
		return fmt.Errorf("%w: %s on channel %d", ErrNotChannelParty, by.Name(), id)
	}
	c.open = false
	l.nodes[c.opener].confirmed += float64(c.local) / model.SatsPerBTC
	l.nodes[c.peer].confirmed += float64(c.remote) / model.SatsPerBTC
	c.local, c.remote = 0, 0
	return nil
}

func (l *ledger) setOnline(ref model.NodeRef, online bool) error {
	n, err := l.node(ref)
	if err != nil {
		return err
	}
	n.online = online
	return nil
}

type hop struct {
	ch   *channel
	from string
}

// route finds the shortest path from src to dst over open channels between
// online nodes that can each forward amount. amount 0 ignores liquidity.
// Channels are explored in open order so routes are deterministic.
func (l *ledger) route(src, dst model.NodeRef, amount uint64) ([]hop, error) {
	from, to, err := l.pair(src, dst)
	if err != nil {
		return nil, err
	}
	start, goal := from.ref.Name(), to.ref.Name()

	prev := map[string]hop{}
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 && !visited[goal] {
		cur := queue[0]
		queue = queue[1:]
		if !l.nodes[cur].online {
			continue
		}
		for _, id := range l.order {
			c := l.channels[id]
			if !c.open {
				continue
			}
			next, ok := c.other(cur)
			if !ok || visited[next] || !l.nodes[next].online {
				continue
			}
			if amount > 0 && c.outbound(cur) < amount {
				continue
			}
			visited[next] = true
			prev[next] = hop{ch: c, from: cur}
			queue = append(queue, next)
		}
	}
	if !visited[goal] {
		return nil, fmt.Errorf("%w from %s to %s", ErrNoRoute, start, goal)
	}

	var path []hop
	for at := goal; at != start; {
		h := prev[at]
		path = append(path, h)
		at = h.from
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// pay moves amount sats from src to dst along the shortest funded route and
// returns the hop count.
func (l *ledger) pay(src, dst model.NodeRef, amount uint64) (int, error) {
	if amount == 0 {
		return 0, fmt.Errorf("%w: 0 sats", ErrInvalidAmount)
	}
	path, err := l.route(src, dst, amount)
	if err != nil {
		return 0, err
	}
	for _, h := range path {
		h.ch.move(h.from, amount)
	}
	return len(path), nil
}

// channelIDs returns every known channel id in ascending order.
func (l *ledger) channelIDs() []uint64 {
	ids := append([]uint64(nil), l.order...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
