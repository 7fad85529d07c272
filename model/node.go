package model

import "fmt"

// NodeKind names one of the interchangeable payment-node implementations that
// the emulated network can host.
type NodeKind string

const (
	KindLND NodeKind = "blast_lnd"
	KindLDK NodeKind = "blast_ldk"
	KindCLN NodeKind = "blast_cln"
)

// MaxNodeIndex is the largest index that still fits the four-digit padding of
// a node name.
const MaxNodeIndex = 9999

// Kinds returns the supported node kinds in canonical order.
func Kinds() []NodeKind {
	return []NodeKind{KindLND, KindLDK, KindCLN}
}

// Valid reports whether k is one of the supported kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindLND, KindLDK, KindCLN:
		return true
	default:
		return false
	}
}

// NodeRef identifies one emulated node by kind and per-kind index.
type NodeRef struct {
	Kind  NodeKind `yaml:"kind"`
	Index int      `yaml:"index"`
}

// Node builds a NodeRef.
func Node(kind NodeKind, index int) NodeRef { return NodeRef{Kind: kind, Index: index} }

// LND, LDK and CLN are shorthands used heavily by scenario presets.
func LND(index int) NodeRef { return Node(KindLND, index) }
func LDK(index int) NodeRef { return Node(KindLDK, index) }
func CLN(index int) NodeRef { return Node(KindCLN, index) }

// Name returns the node's unique name, e.g. "blast_lnd-0003".
func (n NodeRef) Name() string {
	return fmt.Sprintf("%s-%04d", n.Kind, n.Index)
}

func (n NodeRef) String() string { return n.Name() }

// KindCount is the number of nodes of one kind in a scenario.
type KindCount struct {
	Kind  NodeKind `yaml:"kind"`
	Count int      `yaml:"count"`
}
