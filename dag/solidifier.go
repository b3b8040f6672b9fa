package dag

import (
	"tangle-node/events"
	"tangle-node/models"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

// solidify propagates solidity forward starting from v. Every vertex turns solid at most once,
// so concurrent propagations touching the same region never repeat a transition.
// A seed that is solid already (loaded from the backend that way, or solidified by a concurrent
// propagation) only triggers its children. Returns true if a milestone became solid on the way.
func (t *Tangle) solidify(v *Vertex) (milestoneSolidified bool) {
	queue := new(deque.Deque[*Vertex])
	if v.IsSolid() {
		t.addTip(v)
		milestoneSolidified = v.IsMilestone()
		t.enqueueChildren(queue, v.Children())
	} else {
		queue.PushBack(v)
	}

	for queue.Len() > 0 {
		cur := queue.PopFront()
		if cur.IsSolid() {
			continue
		}
		omrsi, ymrsi, ok := t.parentsSolid(cur)
		if !ok {
			continue
		}
		children, ok := cur.markSolid(omrsi, ymrsi)
		if !ok {
			continue
		}
		t.refreshSolidified(cur)
		t.metrics.Solidified.Inc()
		t.bus.Publish(events.MessageSolidified{ID: cur.ID()})
		t.log.Debug("solidified", zap.Stringer("id", cur.ID()))

		t.addTip(cur)
		if cur.IsMilestone() {
			milestoneSolidified = true
		}
		t.enqueueChildren(queue, children)
	}
	return
}

func (t *Tangle) enqueueChildren(queue *deque.Deque[*Vertex], children []models.MessageID) {
	for _, childID := range children {
		if child := t.store.get(childID); child != nil {
			queue.PushBack(child)
		}
	}
}

func (t *Tangle) addTip(v *Vertex) {
	if t.tips.addIfTip(v) {
		t.metrics.Tips.Set(float64(t.tips.len()))
	}
}

// refreshSolidified re-reads the parents once v is solid. A confirmation walk running between
// parentsSolid and markSolid skips v in its refresh, its result is picked up here.
func (t *Tangle) refreshSolidified(v *Vertex) {
	omrsi, ymrsi, ok := t.parentsSolid(v)
	if ok && v.updateRootSnapshotIndexes(omrsi, ymrsi) {
		t.updateRootSnapshotIndexes([]models.MessageID{v.ID()})
	}
}

// parentsSolid checks the payload is known and every parent is solid. A solid entry point
// counts as solid. It also returns the root snapshot indexes the vertex inherits: the oldest
// and the youngest milestone index among its nearest confirmed ancestors.
func (t *Tangle) parentsSolid(v *Vertex) (omrsi, ymrsi models.MilestoneIndex, ok bool) {
	msg := v.Message()
	if msg == nil {
		return 0, 0, false
	}
	first := true
	for _, parent := range msg.Parents {
		var o, y models.MilestoneIndex
		if index, isSEP := t.solidEntryPointIndex(parent); isSEP {
			o, y = index, index
		} else {
			pv := t.store.get(parent)
			if pv == nil || !pv.IsSolid() {
				return 0, 0, false
			}
			o, y = pv.rootSnapshotIndexes()
		}
		if first || o < omrsi {
			omrsi = o
		}
		if first || y > ymrsi {
			ymrsi = y
		}
		first = false
	}
	return omrsi, ymrsi, true
}
