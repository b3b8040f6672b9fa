package dag

import (
	"context"

	"tangle-node/events"
	"tangle-node/models"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ProcessMilestone records a milestone and advances the solid milestone index as far as the
// recorded milestones allow. Calls are serialized; the confirmation walk of one milestone
// completes before the next starts. Regressions and conflicts are rejected but not fatal.
func (t *Tangle) ProcessMilestone(ctx context.Context, msg *models.Message) error {
	if err := t.checkAlive(); err != nil {
		return err
	}
	if !msg.IsMilestone() {
		return errors.Wrapf(ErrNotMilestone, "%s", msg.ID.Short())
	}
	if !t.Contains(msg.ID) {
		return errors.Wrapf(ErrUnknownMessage, "milestone %s", msg.ID.Short())
	}
	index := msg.MilestoneIndex()

	t.msMutex.Lock()
	defer t.msMutex.Unlock()

	if solid := t.ConfirmedMilestoneIndex(); index <= solid {
		t.metrics.RejectedMilestones.Inc()
		t.log.Warn("protocol inconsistency: milestone index regression",
			zap.Stringer("id", msg.ID), zap.Uint32("index", uint32(index)), zap.Uint32("solid", uint32(solid)))
		return errors.Wrapf(ErrMilestoneRegression, "milestone %d, confirmed %d", index, solid)
	}

	t.milestonesMutex.Lock()
	existing, known := t.milestones[index]
	if !known {
		t.milestones[index] = msg.ID
	}
	t.milestonesMutex.Unlock()

	if known && existing != msg.ID {
		t.metrics.RejectedMilestones.Inc()
		t.log.Warn("protocol inconsistency: conflicting milestone",
			zap.Uint32("index", uint32(index)), zap.Stringer("known", existing), zap.Stringer("new", msg.ID))
		return errors.Wrapf(ErrConflictingMilestone, "index %d: %s vs %s", index, existing.Short(), msg.ID.Short())
	}
	if uint32(index) > t.latestMilestone.Load() {
		t.latestMilestone.Store(uint32(index))
		t.metrics.LatestMilestoneIndex.Set(float64(index))
		t.bus.Publish(events.LatestMilestoneChanged{Index: index, ID: msg.ID})
	}
	return t.advance(ctx)
}

// tryAdvance retries buffered milestones, e.g. after one of them became solid
func (t *Tangle) tryAdvance(ctx context.Context) {
	t.msMutex.Lock()
	defer t.msMutex.Unlock()

	if err := t.advance(ctx); err != nil {
		t.log.Error("failed to advance solid milestone", zap.Error(err))
	}
}

// requestAdvance schedules tryAdvance on the advance loop. It never blocks, so it is safe
// to call with msMutex held.
func (t *Tangle) requestAdvance() {
	select {
	case t.advanceRequests <- struct{}{}:
	default:
	}
}

// advanceLoop retries buffered milestones that became solid outside of Insert
func (t *Tangle) advanceLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-t.stopCh:
			return
		case <-t.advanceRequests:
			t.tryAdvance(ctx)
		}
	}
}

// advance confirms contiguous solid milestones. Caller holds msMutex.
func (t *Tangle) advance(ctx context.Context) error {
	for {
		current := t.ConfirmedMilestoneIndex()
		next := current + 1
		id, ok := t.Milestone(next)
		if !ok {
			return nil
		}
		v := t.store.get(id)
		if v == nil || !v.IsSolid() {
			t.log.Debug("milestone buffered until solid", zap.Uint32("index", uint32(next)))
			return nil
		}
		cone, err := t.confirm(ctx, next, id)
		if err != nil {
			return errors.Wrapf(err, "confirmation walk of milestone %d", next)
		}
		t.solidMilestone.Store(uint32(next))
		t.updateRootSnapshotIndexes(cone)

		t.metrics.SolidMilestoneIndex.Set(float64(next))
		t.metrics.ConfirmedMessages.Add(float64(len(cone)))
		t.log.Info("solid milestone advanced",
			zap.Uint32("index", uint32(next)), zap.Stringer("id", id), zap.Int("confirmed", len(cone)))
		t.bus.Publish(events.ConfirmedMilestoneChanged{Old: current, New: next})
		t.requestPruning()
	}
}

// confirm assigns index to every vertex of the past cone of milestone id that has no index yet.
// The walk stops at confirmed vertices and at solid entry points. Returns the exclusive cone.
func (t *Tangle) confirm(ctx context.Context, index models.MilestoneIndex, id models.MessageID) ([]models.MessageID, error) {
	cone := make([]models.MessageID, 0)
	err := t.WalkAncestors(ctx, []models.MessageID{id}, Walker{
		Follow: func(v *Vertex) bool {
			return v.setMilestoneIndex(index)
		},
		Visit: func(v *Vertex) {
			cone = append(cone, v.ID())
		},
		OnMissing: func(missing models.MessageID) {
			t.log.Error("confirmation walk reached a missing vertex",
				zap.Uint32("index", uint32(index)), zap.Stringer("id", missing))
		},
	})
	return cone, err
}

// updateRootSnapshotIndexes refreshes the inherited indexes of the unconfirmed future cone of
// newly confirmed vertices. A vertex is re-queued whenever one of its parents changed.
func (t *Tangle) updateRootSnapshotIndexes(confirmed []models.MessageID) {
	queue := new(deque.Deque[models.MessageID])
	for _, id := range confirmed {
		if v := t.store.get(id); v != nil {
			for _, child := range v.Children() {
				queue.PushBack(child)
			}
		}
	}
	for queue.Len() > 0 {
		v := t.store.get(queue.PopFront())
		if v == nil || v.MilestoneIndex() != 0 {
			continue
		}
		omrsi, ymrsi, ok := t.parentsSolid(v)
		if !ok || !v.updateRootSnapshotIndexes(omrsi, ymrsi) {
			continue
		}
		for _, child := range v.Children() {
			queue.PushBack(child)
		}
	}
}

// Milestone returns the id of the milestone recorded for index
func (t *Tangle) Milestone(index models.MilestoneIndex) (models.MessageID, bool) {
	t.milestonesMutex.RLock()
	defer t.milestonesMutex.RUnlock()

	id, ok := t.milestones[index]
	return id, ok
}

// ConfirmedMilestoneIndex is the latest solid milestone index
func (t *Tangle) ConfirmedMilestoneIndex() models.MilestoneIndex {
	return models.MilestoneIndex(t.solidMilestone.Load())
}

// LatestMilestoneIndex is the highest milestone index seen, solid or not
func (t *Tangle) LatestMilestoneIndex() models.MilestoneIndex {
	return models.MilestoneIndex(t.latestMilestone.Load())
}

// IsSynced is true when at least one milestone is solid and the latest known one is
// at most SyncThreshold ahead of it
func (t *Tangle) IsSynced() bool {
	solid := t.solidMilestone.Load()
	return solid > 0 && t.latestMilestone.Load()-solid <= t.cfg.SyncThreshold
}
