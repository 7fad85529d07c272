package topology

import (
	"github.com/signalsfoundry/interop-sim/model"
)

// generator carries the state shared across region loops. The channel id
// counter in particular spans hubs and mesh so ids follow generation order.
type generator struct {
	d      Descriptor
	topo   *model.Topology
	nextID uint64
}

// Generate validates d and produces its topology.
func Generate(d Descriptor) (*model.Topology, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	g := &generator{
		d: d,
		topo: &model.Topology{
			Name:                d.Name,
			Nodes:               append([]model.KindCount(nil), d.Nodes...),
			PauseBeforeFinalize: d.PauseBeforeFinalize,
		},
	}

	for _, h := range d.Hubs {
		for _, leaf := range h.LeafRefs() {
			g.link(h.Hub, leaf, h.Capacity, h.Push)
		}
	}
	for _, p := range d.Mesh.Pairs {
		g.link(p.A, p.B, p.Capacity, p.Push)
	}
	// The last channel doubles as the network-wide synchronization point.
	g.topo.Channels[len(g.topo.Channels)-1].Announce = true

	switch d.Funding.Policy {
	case FundOpeners:
		g.fundOpeners()
	case FundAllByKind:
		g.fundAllByKind()
	}

	g.topo.Activities = append([]model.ActivitySpec(nil), d.Activity...)
	g.topo.Events = append([]model.EventSpec(nil), d.Events...)
	return g.topo, nil
}

func (g *generator) link(a, b model.NodeRef, capacity, push uint64) {
	g.topo.Connections = append(g.topo.Connections, model.Connection{A: a, B: b})
	g.topo.Channels = append(g.topo.Channels, model.ChannelSpec{
		ID:       g.nextID,
		Opener:   a,
		Peer:     b,
		Capacity: capacity,
		Push:     push,
	})
	g.nextID++
}

func (g *generator) hubFor(n model.NodeRef) (HubShape, bool) {
	for _, h := range g.d.Hubs {
		if h.Hub == n {
			return h, true
		}
	}
	return HubShape{}, false
}

// hubFunding renders a hub's funding as increments, or a lump sum when the
// hub is not split.
func (g *generator) hubFunding(h HubShape) []model.Funding {
	if !h.split() {
		return []model.Funding{{Node: h.Hub, Amount: g.d.Funding.Amount}}
	}
	amount := h.IncrementAmount
	if amount == 0 {
		amount = g.d.Funding.Amount / float64(h.FundingIncrements)
	}
	out := make([]model.Funding, 0, h.FundingIncrements)
	for i := 0; i < h.FundingIncrements; i++ {
		out = append(out, model.Funding{Node: h.Hub, Amount: amount})
	}
	return out
}

// appendBatch appends plain lump sums followed by split hub increments and
// flags the last call of the batch as final.
func (g *generator) appendBatch(plain []model.NodeRef, split []HubShape) {
	start := len(g.topo.Fundings)
	for _, n := range plain {
		if h, ok := g.hubFor(n); ok {
			g.topo.Fundings = append(g.topo.Fundings, g.hubFunding(h)...)
			continue
		}
		g.topo.Fundings = append(g.topo.Fundings, model.Funding{Node: n, Amount: g.d.Funding.Amount})
	}
	for _, h := range split {
		g.topo.Fundings = append(g.topo.Fundings, g.hubFunding(h)...)
	}
	if len(g.topo.Fundings) > start {
		g.topo.Fundings[len(g.topo.Fundings)-1].Final = true
	}
}

func (g *generator) fundOpeners() {
	seen := make(map[model.NodeRef]bool)
	var plain []model.NodeRef
	var split []HubShape
	for _, ch := range g.topo.Channels {
		if seen[ch.Opener] {
			continue
		}
		seen[ch.Opener] = true
		if h, ok := g.hubFor(ch.Opener); ok && h.split() {
			split = append(split, h)
			continue
		}
		plain = append(plain, ch.Opener)
	}
	g.appendBatch(plain, split)
}

func (g *generator) fundAllByKind() {
	for _, kc := range g.d.Nodes {
		var plain []model.NodeRef
		var split []HubShape
		var hubs []model.NodeRef
		for i := 0; i < kc.Count; i++ {
			n := model.Node(kc.Kind, i)
			h, ok := g.hubFor(n)
			switch {
			case ok && h.split():
				split = append(split, h)
			case ok:
				hubs = append(hubs, n)
			default:
				plain = append(plain, n)
			}
		}
		// Hubs close their kind's batch so the confirming call lands on the
		// busiest node.
		g.appendBatch(append(plain, hubs...), split)
	}
}
