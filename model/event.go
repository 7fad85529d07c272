package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EventKind is the wire name of a scripted event.
type EventKind string

const (
	EventCloseChannel EventKind = "CloseChannel"
	EventOpenChannel  EventKind = "OpenChannel"
	EventStopNode     EventKind = "StopNode"
	EventStartNode    EventKind = "StartNode"
)

// Event is the closed set of scripted actions. Each variant carries its own
// typed payload; Params renders it as the positional argument list the
// network core understands.
type Event interface {
	Kind() EventKind
	Params() []string
	// Nodes lists every node the event refers to.
	Nodes() []NodeRef
	validate() error
}

// CloseChannelEvent closes channel ChannelID from Node's side.
type CloseChannelEvent struct {
	Node      NodeRef
	ChannelID uint64
}

func (CloseChannelEvent) Kind() EventKind    { return EventCloseChannel }
func (e CloseChannelEvent) Nodes() []NodeRef { return []NodeRef{e.Node} }
func (e CloseChannelEvent) Params() []string {
	return []string{e.Node.Name(), strconv.FormatUint(e.ChannelID, 10)}
}
func (e CloseChannelEvent) validate() error { return validateRef(e.Node) }

// OpenChannelEvent opens a channel mid-simulation.
type OpenChannelEvent struct {
	Channel ChannelSpec
}

func (OpenChannelEvent) Kind() EventKind { return EventOpenChannel }
func (e OpenChannelEvent) Nodes() []NodeRef {
	return []NodeRef{e.Channel.Opener, e.Channel.Peer}
}
func (e OpenChannelEvent) Params() []string {
	c := e.Channel
	return []string{
		c.Opener.Name(),
		c.Peer.Name(),
		strconv.FormatUint(c.Capacity, 10),
		strconv.FormatUint(c.Push, 10),
		strconv.FormatUint(c.ID, 10),
	}
}
func (e OpenChannelEvent) validate() error {
	if err := validateRef(e.Channel.Opener); err != nil {
		return err
	}
	if err := validateRef(e.Channel.Peer); err != nil {
		return err
	}
	if e.Channel.Opener == e.Channel.Peer {
		return fmt.Errorf("channel %d opens to itself", e.Channel.ID)
	}
	if e.Channel.Capacity == 0 {
		return fmt.Errorf("channel %d has zero capacity", e.Channel.ID)
	}
	if e.Channel.Push > e.Channel.Capacity {
		return fmt.Errorf("channel %d pushes %d sats over capacity %d", e.Channel.ID, e.Channel.Push, e.Channel.Capacity)
	}
	return nil
}

// StopNodeEvent takes a node offline.
type StopNodeEvent struct {
	Node NodeRef
}

func (StopNodeEvent) Kind() EventKind    { return EventStopNode }
func (e StopNodeEvent) Nodes() []NodeRef { return []NodeRef{e.Node} }
func (e StopNodeEvent) Params() []string { return []string{e.Node.Name()} }
func (e StopNodeEvent) validate() error  { return validateRef(e.Node) }

// StartNodeEvent brings a stopped node back.
type StartNodeEvent struct {
	Node NodeRef
}

func (StartNodeEvent) Kind() EventKind    { return EventStartNode }
func (e StartNodeEvent) Nodes() []NodeRef { return []NodeRef{e.Node} }
func (e StartNodeEvent) Params() []string { return []string{e.Node.Name()} }
func (e StartNodeEvent) validate() error  { return validateRef(e.Node) }

// EventSpec schedules Event at Offset after simulation start.
type EventSpec struct {
	Offset time.Duration
	Event  Event
}

// NewEventSpec validates and builds an EventSpec.
func NewEventSpec(offset time.Duration, ev Event) (EventSpec, error) {
	if offset < 0 {
		return EventSpec{}, fmt.Errorf("event offset %s is negative", offset)
	}
	if ev == nil {
		return EventSpec{}, errors.New("event is nil")
	}
	if err := ev.validate(); err != nil {
		return EventSpec{}, fmt.Errorf("%s event: %w", ev.Kind(), err)
	}
	return EventSpec{Offset: offset, Event: ev}, nil
}

// MustEventSpec is NewEventSpec for static scenario tables.
func MustEventSpec(offset time.Duration, ev Event) EventSpec {
	spec, err := NewEventSpec(offset, ev)
	if err != nil {
		panic(err)
	}
	return spec
}

func (e EventSpec) String() string {
	return fmt.Sprintf("event %s at +%s %v", e.Event.Kind(), e.Offset, e.Event.Params())
}

func validateRef(n NodeRef) error {
	if !n.Kind.Valid() {
		return fmt.Errorf("unknown node kind %q", n.Kind)
	}
	if n.Index < 0 || n.Index > MaxNodeIndex {
		return fmt.Errorf("node index %d out of range", n.Index)
	}
	return nil
}
