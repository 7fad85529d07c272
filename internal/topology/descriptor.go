// Package topology turns a scenario descriptor into the ordered connect, fund,
// open, activity and event instructions the orchestrator replays against the
// network. Generation is pure: no I/O and no network calls.
package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/interop-sim/model"
)

// ErrInvalidDescriptor is wrapped by every descriptor validation failure.
var ErrInvalidDescriptor = errors.New("invalid scenario descriptor")

// FundingPolicy selects which nodes receive funding and how fundings are
// batched for confirmation.
type FundingPolicy string

const (
	// FundOpeners funds each channel opener once, in order of its first
	// channel, as a single batch.
	FundOpeners FundingPolicy = "openers"
	// FundAllByKind funds every node, one batch per node kind.
	FundAllByKind FundingPolicy = "all_by_kind"
)

// FundingPlan configures the funding phase.
type FundingPlan struct {
	Policy FundingPolicy
	Amount float64 // BTC per lump-sum funding
}

// LeafRange selects Count consecutive nodes of Kind starting at First.
type LeafRange struct {
	Kind  model.NodeKind
	First int
	Count int
}

// Refs expands the range into node references.
func (r LeafRange) Refs() []model.NodeRef {
	refs := make([]model.NodeRef, 0, r.Count)
	for i := 0; i < r.Count; i++ {
		refs = append(refs, model.Node(r.Kind, r.First+i))
	}
	return refs
}

// HubShape is a hub node that opens a channel to each of its leaves.
type HubShape struct {
	Hub      model.NodeRef
	Leaves   []LeafRange
	Capacity uint64 // sats per leaf channel
	Push     uint64 // sats pushed to each leaf

	// FundingIncrements splits the hub's funding into many small on-chain
	// outputs. Zero or one means a single lump sum of FundingPlan.Amount.
	FundingIncrements int
	// IncrementAmount is the BTC amount per increment. Zero divides
	// FundingPlan.Amount evenly.
	IncrementAmount float64
}

// LeafRefs returns every leaf of the hub in range order.
func (h HubShape) LeafRefs() []model.NodeRef {
	var refs []model.NodeRef
	for _, r := range h.Leaves {
		refs = append(refs, r.Refs()...)
	}
	return refs
}

func (h HubShape) split() bool { return h.FundingIncrements > 1 }

// Pair is one explicit point-to-point channel, opened by A.
type Pair struct {
	A        model.NodeRef
	B        model.NodeRef
	Capacity uint64
	Push     uint64
}

// MeshShape is a set of explicit pairs layered independently of any hub.
type MeshShape struct {
	Pairs []Pair
}

// Shape reports which topology regions a descriptor uses.
type Shape uint8

const (
	ShapeHub Shape = 1 << iota
	ShapeMesh
)

func (s Shape) String() string {
	var parts []string
	if s&ShapeHub != 0 {
		parts = append(parts, "hub")
	}
	if s&ShapeMesh != 0 {
		parts = append(parts, "mesh")
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, "+")
}

// Descriptor parameterizes one scenario.
type Descriptor struct {
	Name     string
	Nodes    []model.KindCount
	Hubs     []HubShape
	Mesh     MeshShape
	Funding  FundingPlan
	Activity []model.ActivitySpec
	Events   []model.EventSpec

	PauseBeforeFinalize bool
}

// Shape derives the shape selector from the configured regions.
func (d Descriptor) Shape() Shape {
	var s Shape
	if len(d.Hubs) > 0 {
		s |= ShapeHub
	}
	if len(d.Mesh.Pairs) > 0 {
		s |= ShapeMesh
	}
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, args...))
}

// Validate checks the descriptor without generating anything.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return invalid("scenario name is empty")
	}
	if len(d.Nodes) == 0 {
		return invalid("no node kinds configured")
	}
	counts := make(map[model.NodeKind]int, len(d.Nodes))
	for _, kc := range d.Nodes {
		if !kc.Kind.Valid() {
			return invalid("unknown node kind %q", kc.Kind)
		}
		if kc.Count <= 0 {
			return invalid("%s count %d must be positive", kc.Kind, kc.Count)
		}
		if kc.Count > model.MaxNodeIndex+1 {
			return invalid("%s count %d exceeds %d", kc.Kind, kc.Count, model.MaxNodeIndex+1)
		}
		if _, dup := counts[kc.Kind]; dup {
			return invalid("%s listed twice", kc.Kind)
		}
		counts[kc.Kind] = kc.Count
	}
	exists := func(n model.NodeRef) bool {
		c, ok := counts[n.Kind]
		return ok && n.Index >= 0 && n.Index < c
	}

	if d.Shape() == 0 {
		return invalid("scenario %s opens no channels", d.Name)
	}
	if d.Funding.Amount <= 0 {
		return invalid("funding amount %v must be positive", d.Funding.Amount)
	}
	switch d.Funding.Policy {
	case FundOpeners, FundAllByKind:
	default:
		return invalid("unknown funding policy %q", d.Funding.Policy)
	}

	endpoints := make(map[model.NodeRef]bool)
	hubs := make(map[model.NodeRef]bool, len(d.Hubs))
	splitPerBatch := make(map[model.NodeKind]int)
	for _, h := range d.Hubs {
		if !exists(h.Hub) {
			return invalid("hub %s is not part of the network", h.Hub)
		}
		if hubs[h.Hub] {
			return invalid("hub %s declared twice", h.Hub)
		}
		hubs[h.Hub] = true
		if err := checkChannel(h.Capacity, h.Push); err != nil {
			return invalid("hub %s: %v", h.Hub, err)
		}
		if h.FundingIncrements < 0 || h.IncrementAmount < 0 {
			return invalid("hub %s has negative funding split", h.Hub)
		}
		if h.split() {
			batch := h.Hub.Kind
			if d.Funding.Policy == FundOpeners {
				batch = ""
			}
			splitPerBatch[batch]++
			if splitPerBatch[batch] > 1 {
				return invalid("more than one split-funded hub in the same funding batch")
			}
		}
		leaves := h.LeafRefs()
		if len(leaves) == 0 {
			return invalid("hub %s has no leaves", h.Hub)
		}
		endpoints[h.Hub] = true
		for _, leaf := range leaves {
			if !exists(leaf) {
				return invalid("leaf %s of hub %s is not part of the network", leaf, h.Hub)
			}
			endpoints[leaf] = true
		}
	}
	// A second pass so that a hub listed after its would-be leaf is caught too.
	for _, h := range d.Hubs {
		for _, leaf := range h.LeafRefs() {
			if hubs[leaf] {
				return invalid("hub %s lists hub %s as a leaf", h.Hub, leaf)
			}
		}
	}

	for i, p := range d.Mesh.Pairs {
		if !exists(p.A) || !exists(p.B) {
			return invalid("mesh pair %d (%s, %s) references a node outside the network", i, p.A, p.B)
		}
		if p.A == p.B {
			return invalid("mesh pair %d connects %s to itself", i, p.A)
		}
		if err := checkChannel(p.Capacity, p.Push); err != nil {
			return invalid("mesh pair %d: %v", i, err)
		}
		endpoints[p.A] = true
		endpoints[p.B] = true
	}

	for i, a := range d.Activity {
		if !endpoints[a.Source] || !endpoints[a.Destination] {
			return invalid("activity %d (%s -> %s) references a node without channels", i, a.Source, a.Destination)
		}
		if a.Count < 0 {
			return invalid("activity %d count %d is negative", i, a.Count)
		}
		if a.Interval <= 0 {
			return invalid("activity %d interval %s must be positive", i, a.Interval)
		}
		if a.MinAmount != nil && a.MaxAmount != nil && *a.MinAmount > *a.MaxAmount {
			return invalid("activity %d min amount exceeds max amount", i)
		}
	}

	for i, ev := range d.Events {
		if ev.Event == nil {
			return invalid("event %d is empty", i)
		}
		if ev.Offset < 0 {
			return invalid("event %d offset %s is negative", i, ev.Offset)
		}
		for _, n := range ev.Event.Nodes() {
			if !exists(n) {
				return invalid("event %d references unknown node %s", i, n)
			}
		}
	}
	return d.checkChannelRefs()
}

// checkChannelRefs walks channels in generation order, hubs then mesh, so
// the ids it assigns match the ones Generate hands out. Close events must
// name a party of a channel that exists by then.
func (d Descriptor) checkChannelRefs() error {
	linked := make(map[[2]model.NodeRef]bool)
	byID := make(map[uint64][2]model.NodeRef)
	var next uint64
	link := func(a, b model.NodeRef) error {
		key := [2]model.NodeRef{a, b}
		if b.Name() < a.Name() {
			key = [2]model.NodeRef{b, a}
		}
		if linked[key] {
			return invalid("%s and %s are linked twice", a, b)
		}
		linked[key] = true
		byID[next] = [2]model.NodeRef{a, b}
		next++
		return nil
	}
	for _, h := range d.Hubs {
		for _, leaf := range h.LeafRefs() {
			if err := link(h.Hub, leaf); err != nil {
				return err
			}
		}
	}
	for _, p := range d.Mesh.Pairs {
		if err := link(p.A, p.B); err != nil {
			return err
		}
	}

	for i, ev := range d.Events {
		switch e := ev.Event.(type) {
		case model.CloseChannelEvent:
			ends, ok := byID[e.ChannelID]
			if !ok {
				return invalid("event %d closes unknown channel %d", i, e.ChannelID)
			}
			if ends[0] != e.Node && ends[1] != e.Node {
				return invalid("event %d: %s is not a party to channel %d", i, e.Node, e.ChannelID)
			}
		case model.OpenChannelEvent:
			if _, ok := byID[e.Channel.ID]; ok {
				return invalid("event %d reuses channel id %d", i, e.Channel.ID)
			}
			byID[e.Channel.ID] = [2]model.NodeRef{e.Channel.Opener, e.Channel.Peer}
		}
	}
	return nil
}

func checkChannel(capacity, push uint64) error {
	if capacity == 0 {
		return errors.New("channel capacity must be positive")
	}
	if push > capacity {
		return fmt.Errorf("push %d exceeds capacity %d", push, capacity)
	}
	return nil
}
