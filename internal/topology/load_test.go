package topology

import (
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/interop-sim/model"
)

const hubScenarioYAML = `
name: tiny-hub
nodes:
  - {kind: blast_lnd, count: 4}
  - {kind: blast_cln, count: 2}
hubs:
  - hub: {kind: blast_lnd, index: 0}
    leaves:
      - {kind: blast_lnd, first: 1, count: 3}
    capacity: 200000
    push: 10000
    funding_increments: 4
mesh:
  - a: {kind: blast_cln, index: 0}
    b: {kind: blast_cln, index: 1}
    capacity: 100000
funding:
  policy: all_by_kind
  amount: 0.5
activity:
  - source: {kind: blast_lnd, index: 1}
    destination: {kind: blast_lnd, index: 2}
    max_amount: 500
    count: 3
    interval: 1500ms
events:
  - offset: 30s
    kind: CloseChannel
    node: {kind: blast_lnd, index: 0}
    channel_id: 2
  - offset: 45s
    kind: StopNode
    node: {kind: blast_cln, index: 1}
pause_before_finalize: true
`

func TestLoadDescriptorAndGenerate(t *testing.T) {
	d, err := LoadDescriptor(strings.NewReader(hubScenarioYAML))
	if err != nil {
		t.Fatalf("LoadDescriptor: %v", err)
	}
	if d.Name != "tiny-hub" || len(d.Hubs) != 1 || len(d.Mesh.Pairs) != 1 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if d.Activity[0].Interval != 1500*time.Millisecond {
		t.Fatalf("interval = %s, want 1.5s", d.Activity[0].Interval)
	}
	if d.Activity[0].MinAmount != nil || *d.Activity[0].MaxAmount != 500 {
		t.Fatalf("amount bounds not decoded: %+v", d.Activity[0])
	}

	topo, err := Generate(d)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(topo.Channels) != 4 {
		t.Fatalf("channels = %d, want 4", len(topo.Channels))
	}
	// lnd-0001..0003 lump sums, then four hub increments, then cln batch.
	if got, want := len(topo.Fundings), 3+4+2; got != want {
		t.Fatalf("fundings = %d, want %d", got, want)
	}
	if f := topo.Fundings[6]; f.Node != model.LND(0) || !f.Final || f.Amount != 0.125 {
		t.Fatalf("funding[6] = %v, want final hub increment of 0.125", f)
	}
	if len(topo.Events) != 2 || topo.Events[1].Event.Kind() != model.EventStopNode {
		t.Fatalf("events = %v", topo.Events)
	}
}

func TestLoadDescriptorRejectsUnknownFields(t *testing.T) {
	_, err := LoadDescriptor(strings.NewReader("name: x\ncolour: blue\n"))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadDescriptorRejectsBadEvents(t *testing.T) {
	cases := map[string]string{
		"unknown kind":    "name: x\nevents:\n  - {offset: 1s, kind: Explode}\n",
		"negative offset": "name: x\nevents:\n  - {offset: -1s, kind: StopNode, node: {kind: blast_lnd, index: 0}}\n",
		"missing node":    "name: x\nevents:\n  - {offset: 1s, kind: CloseChannel, channel_id: 0}\n",
		"bad offset":      "name: x\nevents:\n  - {offset: soon, kind: StopNode, node: {kind: blast_lnd, index: 0}}\n",
	}
	for name, doc := range cases {
		if _, err := LoadDescriptor(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
