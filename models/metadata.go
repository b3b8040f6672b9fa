package models

import "strings"

// Flags mirror the boolean state of a vertex in a compact form for storage and the API
type Flags uint8

const (
	FlagSolid Flags = 1 << iota
	FlagMilestone
	FlagReferenced
	FlagRequested
)

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

func (f Flags) String() string {
	names := make([]string, 0, 4)
	if f.Has(FlagSolid) {
		names = append(names, "solid")
	}
	if f.Has(FlagMilestone) {
		names = append(names, "milestone")
	}
	if f.Has(FlagReferenced) {
		names = append(names, "referenced")
	}
	if f.Has(FlagRequested) {
		names = append(names, "requested")
	}
	return "[" + strings.Join(names, ",") + "]"
}

// Metadata is the mutable consensus state of a vertex as it is persisted by the storage backend
type Metadata struct {
	Flags          Flags          `json:"flags"`
	MilestoneIndex MilestoneIndex `json:"milestone_index"` // index of the confirming milestone, 0 if unconfirmed
	ArrivalOrder   uint64         `json:"arrival_order"`
	OMRSI          MilestoneIndex `json:"omrsi"` // oldest milestone root snapshot index
	YMRSI          MilestoneIndex `json:"ymrsi"` // youngest milestone root snapshot index
}

func (m *Metadata) IsSolid() bool {
	return m.Flags.Has(FlagSolid)
}

// SolidEntryPoint marks the pruning boundary. Traversals treat it as an opaque leaf.
type SolidEntryPoint struct {
	ID    MessageID      `json:"id"`
	Index MilestoneIndex `json:"index"`
}

// VertexState is the lifecycle stage of a vertex
type VertexState int

const (
	// Unknown is a placeholder: referenced as a parent, payload not received yet
	Unknown VertexState = iota
	// Pending has the payload but not all of its ancestry
	Pending
	Solid
	Confirmed
)

func (s VertexState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Pending:
		return "pending"
	case Solid:
		return "solid"
	case Confirmed:
		return "confirmed"
	default:
		return "invalid"
	}
}

func (s VertexState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
