package topology

import (
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/interop-sim/model"
)

// Small is a 4/4/4 mixed-implementation mesh: six channels crossing every
// pair of implementations, funded as one batch, with four payment flows.
func Small() Descriptor {
	const capacity = 500_000
	pair := func(a, b model.NodeRef) Pair { return Pair{A: a, B: b, Capacity: capacity} }
	flow := func(src, dst model.NodeRef) model.ActivitySpec {
		return model.ActivitySpec{
			Source:      src,
			Destination: dst,
			MaxAmount:   model.Amount(40),
			Count:       1,
			Interval:    4 * time.Second,
		}
	}
	return Descriptor{
		Name: "small",
		Nodes: []model.KindCount{
			{Kind: model.KindLND, Count: 4},
			{Kind: model.KindLDK, Count: 4},
			{Kind: model.KindCLN, Count: 4},
		},
		Mesh: MeshShape{Pairs: []Pair{
			pair(model.LND(0), model.CLN(0)),
			pair(model.CLN(1), model.LND(1)),
			pair(model.CLN(2), model.LDK(2)),
			pair(model.LDK(2), model.LND(2)),
			pair(model.LND(3), model.LDK(3)),
			pair(model.LDK(3), model.CLN(3)),
		}},
		Funding: FundingPlan{Policy: FundOpeners, Amount: 1.0},
		Activity: []model.ActivitySpec{
			flow(model.LND(0), model.CLN(0)),
			flow(model.CLN(1), model.LND(1)),
			flow(model.CLN(2), model.LND(2)),
			flow(model.LND(3), model.CLN(3)),
		},
		PauseBeforeFinalize: true,
	}
}

// Simple is a single LND channel with one payment and a cooperative close
// scripted ten seconds in.
func Simple() Descriptor {
	return Descriptor{
		Name:  "simple",
		Nodes: []model.KindCount{{Kind: model.KindLND, Count: 2}},
		Mesh: MeshShape{Pairs: []Pair{
			{A: model.LND(0), B: model.LND(1), Capacity: 30_000},
		}},
		Funding: FundingPlan{Policy: FundOpeners, Amount: 1.0},
		Activity: []model.ActivitySpec{{
			Source:      model.LND(0),
			Destination: model.LND(1),
			Count:       1,
			Interval:    2 * time.Second,
		}},
		Events: []model.EventSpec{
			model.MustEventSpec(10*time.Second, model.CloseChannelEvent{Node: model.LND(0), ChannelID: 0}),
		},
	}
}

// Big is a 45/45/10 network built around two hubs. The LND hub serves 40 LND
// leaves and is funded through many small outputs so it can open all of its
// channels without waiting for change; the LDK hub serves 40 LDK leaves.
// CLN nodes form a chain hanging off the LDK hub, and the two hubs are
// linked directly. No events are scripted.
func Big() Descriptor {
	var mesh []Pair
	mesh = append(mesh, Pair{A: model.LND(0), B: model.LDK(0), Capacity: 5_000_000, Push: 2_500_000})
	mesh = append(mesh, Pair{A: model.LDK(0), B: model.CLN(0), Capacity: 2_000_000, Push: 1_000_000})
	for i := 0; i < 9; i++ {
		mesh = append(mesh, Pair{A: model.CLN(i), B: model.CLN(i + 1), Capacity: 1_000_000, Push: 500_000})
	}

	var flows []model.ActivitySpec
	for i := 1; i <= 5; i++ {
		flows = append(flows, model.ActivitySpec{
			Source:      model.LND(i),
			Destination: model.LDK(i),
			MinAmount:   model.Amount(1_000),
			MaxAmount:   model.Amount(20_000),
			Count:       10,
			Interval:    2 * time.Second,
		})
	}
	flows = append(flows, model.ActivitySpec{
		Source:      model.CLN(9),
		Destination: model.LND(40),
		Count:       5,
		Interval:    3 * time.Second,
	})

	return Descriptor{
		Name: "big",
		Nodes: []model.KindCount{
			{Kind: model.KindLND, Count: 45},
			{Kind: model.KindLDK, Count: 45},
			{Kind: model.KindCLN, Count: 10},
		},
		Hubs: []HubShape{
			{
				Hub:               model.LND(0),
				Leaves:            []LeafRange{{Kind: model.KindLND, First: 1, Count: 40}},
				Capacity:          1_000_000,
				Push:              100_000,
				FundingIncrements: 50,
				IncrementAmount:   0.02,
			},
			{
				Hub:      model.LDK(0),
				Leaves:   []LeafRange{{Kind: model.KindLDK, First: 1, Count: 40}},
				Capacity: 500_000,
				Push:     100_000,
			},
		},
		Mesh:     MeshShape{Pairs: mesh},
		Funding:  FundingPlan{Policy: FundAllByKind, Amount: 1.0},
		Activity: flows,
	}
}

var presets = map[string]func() Descriptor{
	"small":  Small,
	"simple": Simple,
	"big":    Big,
}

// Preset returns the named built-in descriptor.
func Preset(name string) (Descriptor, error) {
	fn, ok := presets[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown scenario preset %q (have %v)", name, PresetNames())
	}
	return fn(), nil
}

// PresetNames lists the built-in presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
