package dag

import (
	"sync"

	"tangle-node/models"
)

// Vertex is a message plus its mutable consensus metadata. The message is nil while the
// vertex is an Unknown placeholder. Parent and child relations are identifiers, never pointers.
// All metadata is guarded by the vertex' own mutex, so unrelated vertices never contend.
type Vertex struct {
	id models.MessageID

	mutex    sync.RWMutex
	msg      *models.Message
	meta     models.Metadata
	children map[models.MessageID]struct{}
}

// UnwrapOptions has one callback per vertex state. Nil callbacks are skipped.
type UnwrapOptions struct {
	Unknown   func()
	Pending   func(msg *models.Message, meta models.Metadata)
	Solid     func(msg *models.Message, meta models.Metadata)
	Confirmed func(msg *models.Message, meta models.Metadata)
}

func newVertex(id models.MessageID) *Vertex {
	return &Vertex{
		id:       id,
		children: make(map[models.MessageID]struct{}),
	}
}

func (v *Vertex) ID() models.MessageID {
	return v.id
}

// Message is nil for an Unknown vertex
func (v *Vertex) Message() *models.Message {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.msg
}

func (v *Vertex) State() models.VertexState {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v._state()
}

func (v *Vertex) _state() models.VertexState {
	switch {
	case v.msg == nil:
		return models.Unknown
	case v.meta.MilestoneIndex != 0:
		return models.Confirmed
	case v.meta.IsSolid():
		return models.Solid
	default:
		return models.Pending
	}
}

// Unwrap calls the callback matching the current state. The callback runs without the lock held.
func (v *Vertex) Unwrap(opt UnwrapOptions) {
	v.mutex.RLock()
	state, msg, meta := v._state(), v.msg, v.meta
	v.mutex.RUnlock()

	switch state {
	case models.Unknown:
		if opt.Unknown != nil {
			opt.Unknown()
		}
	case models.Pending:
		if opt.Pending != nil {
			opt.Pending(msg, meta)
		}
	case models.Solid:
		if opt.Solid != nil {
			opt.Solid(msg, meta)
		}
	case models.Confirmed:
		if opt.Confirmed != nil {
			opt.Confirmed(msg, meta)
		}
	}
}

func (v *Vertex) IsSolid() bool {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.meta.IsSolid()
}

func (v *Vertex) IsMilestone() bool {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.msg != nil && v.msg.IsMilestone()
}

// MilestoneIndex of the confirming milestone, 0 while unconfirmed
func (v *Vertex) MilestoneIndex() models.MilestoneIndex {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.meta.MilestoneIndex
}

func (v *Vertex) Metadata() models.Metadata {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.meta
}

func (v *Vertex) Children() []models.MessageID {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	ret := make([]models.MessageID, 0, len(v.children))
	for id := range v.children {
		ret = append(ret, id)
	}
	return ret
}

func (v *Vertex) NumChildren() int {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return len(v.children)
}

// rootSnapshotIndexes returns the indexes children inherit: the own index once confirmed,
// the inherited pair otherwise
func (v *Vertex) rootSnapshotIndexes() (omrsi, ymrsi models.MilestoneIndex) {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	if v.meta.MilestoneIndex != 0 {
		return v.meta.MilestoneIndex, v.meta.MilestoneIndex
	}
	return v.meta.OMRSI, v.meta.YMRSI
}

// setMessage turns a placeholder into a pending vertex. Only the first call succeeds.
func (v *Vertex) setMessage(msg *models.Message, arrival uint64) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.msg != nil {
		return false
	}
	v.msg = msg
	v.meta.ArrivalOrder = arrival
	v.meta.Flags &^= models.FlagRequested
	if msg.IsMilestone() {
		v.meta.Flags |= models.FlagMilestone
	}
	return true
}

// setLoaded fills a placeholder with a message and metadata read from the backend
func (v *Vertex) setLoaded(msg *models.Message, meta models.Metadata, children []models.MessageID) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.msg != nil {
		return false
	}
	v.msg = msg
	v.meta = meta
	v.meta.Flags &^= models.FlagRequested
	if msg.IsMilestone() {
		v.meta.Flags |= models.FlagMilestone
	}
	for _, c := range children {
		v.children[c] = struct{}{}
	}
	return true
}

// addChild registers a back-reference. Idempotent and commutative.
func (v *Vertex) addChild(child models.MessageID) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.children[child] = struct{}{}
}

// markRequested flags a placeholder whose payload is still missing
func (v *Vertex) markRequested() {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.msg == nil {
		v.meta.Flags |= models.FlagRequested
	}
}

// retainChildren drops the children for which keep returns false
func (v *Vertex) retainChildren(keep func(id models.MessageID) bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	for id := range v.children {
		if !keep(id) {
			delete(v.children, id)
		}
	}
}

// markSolid flips solid once. On success it returns the children known at that moment:
// any child registered later observes the vertex as solid.
func (v *Vertex) markSolid(omrsi, ymrsi models.MilestoneIndex) ([]models.MessageID, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.msg == nil || v.meta.IsSolid() {
		return nil, false
	}
	v.meta.Flags |= models.FlagSolid
	if v.meta.MilestoneIndex == 0 {
		v.meta.OMRSI, v.meta.YMRSI = omrsi, ymrsi
	}
	ret := make([]models.MessageID, 0, len(v.children))
	for id := range v.children {
		ret = append(ret, id)
	}
	return ret, true
}

// setMilestoneIndex is first-write-wins
func (v *Vertex) setMilestoneIndex(index models.MilestoneIndex) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.meta.MilestoneIndex != 0 {
		return false
	}
	v.meta.MilestoneIndex = index
	v.meta.OMRSI, v.meta.YMRSI = index, index
	v.meta.Flags |= models.FlagReferenced
	return true
}

// updateRootSnapshotIndexes applies to unconfirmed solid vertices only. Both indexes only grow
// as ancestors get confirmed, so a value computed from an older view never lowers them.
// Returns true if changed.
func (v *Vertex) updateRootSnapshotIndexes(omrsi, ymrsi models.MilestoneIndex) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.meta.MilestoneIndex != 0 || !v.meta.IsSolid() {
		return false
	}
	if omrsi < v.meta.OMRSI {
		omrsi = v.meta.OMRSI
	}
	if ymrsi < v.meta.YMRSI {
		ymrsi = v.meta.YMRSI
	}
	if v.meta.OMRSI == omrsi && v.meta.YMRSI == ymrsi {
		return false
	}
	v.meta.OMRSI, v.meta.YMRSI = omrsi, ymrsi
	return true
}
