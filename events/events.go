package events

import (
	"fmt"

	"tangle-node/models"
)

// Kind identifies the type of an event
type Kind int

const (
	KindNewVertex Kind = iota
	KindMessageSolidified
	KindConfirmedMilestoneChanged
	KindLatestMilestoneChanged
	KindPruned
)

func (k Kind) String() string {
	switch k {
	case KindNewVertex:
		return "NewVertex"
	case KindMessageSolidified:
		return "MessageSolidified"
	case KindConfirmedMilestoneChanged:
		return "ConfirmedMilestoneChanged"
	case KindLatestMilestoneChanged:
		return "LatestMilestoneChanged"
	case KindPruned:
		return "Pruned"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Event interface {
	Kind() Kind
}

// NewVertex is published once per message, when its payload first becomes known
type NewVertex struct {
	ID        models.MessageID
	Milestone models.MilestoneIndex
}

type MessageSolidified struct {
	ID models.MessageID
}

// ConfirmedMilestoneChanged is published for every contiguous advance of the solid milestone index
type ConfirmedMilestoneChanged struct {
	Old models.MilestoneIndex
	New models.MilestoneIndex
}

// LatestMilestoneChanged is published when a milestone with a higher index than any seen arrives
type LatestMilestoneChanged struct {
	Index models.MilestoneIndex
	ID    models.MessageID
}

type Pruned struct {
	TargetIndex models.MilestoneIndex
	SEPs        []models.SolidEntryPoint
}

func (NewVertex) Kind() Kind                 { return KindNewVertex }
func (MessageSolidified) Kind() Kind         { return KindMessageSolidified }
func (ConfirmedMilestoneChanged) Kind() Kind { return KindConfirmedMilestoneChanged }
func (LatestMilestoneChanged) Kind() Kind    { return KindLatestMilestoneChanged }
func (Pruned) Kind() Kind                    { return KindPruned }
