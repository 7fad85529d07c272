package topology

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/interop-sim/model"
	"gopkg.in/yaml.v3"
)

// internal YAML shapes, kept unexported so the file format can evolve
// independently of Descriptor.
type descriptorYAML struct {
	Name                string            `yaml:"name"`
	Nodes               []model.KindCount `yaml:"nodes"`
	Hubs                []hubYAML         `yaml:"hubs"`
	Mesh                []pairYAML        `yaml:"mesh"`
	Funding             fundingYAML       `yaml:"funding"`
	Activity            []activityYAML    `yaml:"activity"`
	Events              []eventYAML       `yaml:"events"`
	PauseBeforeFinalize bool              `yaml:"pause_before_finalize"`
}

type hubYAML struct {
	Hub               model.NodeRef `yaml:"hub"`
	Leaves            []leafYAML    `yaml:"leaves"`
	Capacity          uint64        `yaml:"capacity"`
	Push              uint64        `yaml:"push"`
	FundingIncrements int           `yaml:"funding_increments"`
	IncrementAmount   float64       `yaml:"increment_amount"`
}

type leafYAML struct {
	Kind  model.NodeKind `yaml:"kind"`
	First int            `yaml:"first"`
	Count int            `yaml:"count"`
}

type pairYAML struct {
	A        model.NodeRef `yaml:"a"`
	B        model.NodeRef `yaml:"b"`
	Capacity uint64        `yaml:"capacity"`
	Push     uint64        `yaml:"push"`
}

type fundingYAML struct {
	Policy FundingPolicy `yaml:"policy"`
	Amount float64       `yaml:"amount"`
}

type activityYAML struct {
	Source      model.NodeRef `yaml:"source"`
	Destination model.NodeRef `yaml:"destination"`
	Min         *uint64       `yaml:"min_amount"`
	Max         *uint64       `yaml:"max_amount"`
	Count       int           `yaml:"count"`
	Interval    string        `yaml:"interval"`
}

type eventYAML struct {
	Offset    string          `yaml:"offset"`
	Kind      model.EventKind `yaml:"kind"`
	Node      *model.NodeRef  `yaml:"node"`
	Peer      *model.NodeRef  `yaml:"peer"`
	ChannelID uint64          `yaml:"channel_id"`
	Capacity  uint64          `yaml:"capacity"`
	Push      uint64          `yaml:"push"`
}

// LoadDescriptor decodes a YAML scenario descriptor. The result is decoded
// only; call Generate to validate it.
func LoadDescriptor(r io.Reader) (Descriptor, error) {
	var raw descriptorYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Descriptor{}, fmt.Errorf("decode scenario: %w", err)
	}

	d := Descriptor{
		Name:                raw.Name,
		Nodes:               raw.Nodes,
		Funding:             FundingPlan{Policy: raw.Funding.Policy, Amount: raw.Funding.Amount},
		PauseBeforeFinalize: raw.PauseBeforeFinalize,
	}
	for _, h := range raw.Hubs {
		hub := HubShape{
			Hub:               h.Hub,
			Capacity:          h.Capacity,
			Push:              h.Push,
			FundingIncrements: h.FundingIncrements,
			IncrementAmount:   h.IncrementAmount,
		}
		for _, l := range h.Leaves {
			hub.Leaves = append(hub.Leaves, LeafRange{Kind: l.Kind, First: l.First, Count: l.Count})
		}
		d.Hubs = append(d.Hubs, hub)
	}
	for _, p := range raw.Mesh {
		d.Mesh.Pairs = append(d.Mesh.Pairs, Pair{A: p.A, B: p.B, Capacity: p.Capacity, Push: p.Push})
	}
	for i, a := range raw.Activity {
		interval, err := time.ParseDuration(a.Interval)
		if err != nil {
			return Descriptor{}, fmt.Errorf("activity %d interval: %w", i, err)
		}
		d.Activity = append(d.Activity, model.ActivitySpec{
			Source:      a.Source,
			Destination: a.Destination,
			MinAmount:   a.Min,
			MaxAmount:   a.Max,
			Count:       a.Count,
			Interval:    interval,
		})
	}
	for i, e := range raw.Events {
		spec, err := e.toSpec()
		if err != nil {
			return Descriptor{}, fmt.Errorf("event %d: %w", i, err)
		}
		d.Events = append(d.Events, spec)
	}
	return d, nil
}

// LoadDescriptorFile reads a YAML descriptor from path.
func LoadDescriptorFile(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()
	return LoadDescriptor(f)
}

func (e eventYAML) toSpec() (model.EventSpec, error) {
	offset, err := time.ParseDuration(e.Offset)
	if err != nil {
		return model.EventSpec{}, fmt.Errorf("offset: %w", err)
	}
	node := func() (model.NodeRef, error) {
		if e.Node == nil {
			return model.NodeRef{}, fmt.Errorf("%s event needs a node", e.Kind)
		}
		return *e.Node, nil
	}

	var ev model.Event
	switch e.Kind {
	case model.EventCloseChannel:
		n, err := node()
		if err != nil {
			return model.EventSpec{}, err
		}
		ev = model.CloseChannelEvent{Node: n, ChannelID: e.ChannelID}
	case model.EventOpenChannel:
		n, err := node()
		if err != nil {
			return model.EventSpec{}, err
		}
		if e.Peer == nil {
			return model.EventSpec{}, fmt.Errorf("%s event needs a peer", e.Kind)
		}
		ev = model.OpenChannelEvent{Channel: model.ChannelSpec{
			ID:       e.ChannelID,
			Opener:   n,
			Peer:     *e.Peer,
			Capacity: e.Capacity,
			Push:     e.Push,
		}}
	case model.EventStopNode:
		n, err := node()
		if err != nil {
			return model.EventSpec{}, err
		}
		ev = model.StopNodeEvent{Node: n}
	case model.EventStartNode:
		n, err := node()
		if err != nil {
			return model.EventSpec{}, err
		}
		ev = model.StartNodeEvent{Node: n}
	default:
		return model.EventSpec{}, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return model.NewEventSpec(offset, ev)
}
