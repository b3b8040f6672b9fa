package dag

import (
	"context"

	"tangle-node/config"
	"tangle-node/events"
	"tangle-node/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Prune moves the solid entry points to the boundary of milestone target and evicts every
// vertex confirmed below target that is not a solid entry point. It holds the milestone lock,
// so no confirmation walk runs meanwhile; ingestion continues.
//
// The new solid entry points are the cut set: vertices confirmed below target that are parents
// of a retained vertex (confirmed at target or later, or unconfirmed). This includes the parent
// boundary of milestone target and guarantees that walks from retained vertices end at a
// solid entry point before reaching evicted history.
func (t *Tangle) Prune(ctx context.Context, target models.MilestoneIndex) ([]models.SolidEntryPoint, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	t.msMutex.Lock()
	defer t.msMutex.Unlock()

	solid := t.ConfirmedMilestoneIndex()
	pruned := models.MilestoneIndex(t.prunedIndex.Load())
	if target == 0 || target <= pruned || target > solid || uint32(solid-target) < t.cfg.MilestoneCacheDepth {
		return nil, errors.Wrapf(ErrPruningTooEarly, "target %d, solid %d, pruned %d, cache depth %d",
			target, solid, pruned, t.cfg.MilestoneCacheDepth)
	}

	seps := t.cutSet(target)
	t.sepMutex.Lock()
	t.seps = seps
	t.sepMutex.Unlock()

	evicted := 0
	t.store.forEach(func(v *Vertex) bool {
		index := v.MilestoneIndex()
		if index == 0 || index >= target {
			return true
		}
		if _, isSEP := seps[v.ID()]; isSEP {
			return true
		}
		t.evict(ctx, v)
		evicted++
		return true
	})
	for id := range seps {
		if sv := t.store.get(id); sv != nil {
			sv.retainChildren(func(child models.MessageID) bool {
				return t.store.get(child) != nil
			})
		}
	}
	t.prunedIndex.Store(uint32(target))

	ret := make([]models.SolidEntryPoint, 0, len(seps))
	for id, index := range seps {
		ret = append(ret, models.SolidEntryPoint{ID: id, Index: index})
	}
	t.metrics.PrunedVertices.Add(float64(evicted))
	t.metrics.SolidEntryPoints.Set(float64(len(seps)))
	t.metrics.Vertices.Set(float64(t.store.len()))
	t.metrics.Tips.Set(float64(t.tips.len()))
	t.log.Info("pruned",
		zap.Uint32("target", uint32(target)), zap.Int("evicted", evicted), zap.Int("solid_entry_points", len(seps)))
	t.bus.Publish(events.Pruned{TargetIndex: target, SEPs: ret})
	return ret, nil
}

// cutSet computes the solid entry points for target. Caller holds msMutex.
func (t *Tangle) cutSet(target models.MilestoneIndex) map[models.MessageID]models.MilestoneIndex {
	ret := make(map[models.MessageID]models.MilestoneIndex)
	t.store.forEach(func(v *Vertex) bool {
		if index := v.MilestoneIndex(); index != 0 && index < target {
			return true
		}
		msg := v.Message()
		if msg == nil {
			return true
		}
		for _, parent := range msg.Parents {
			if index, isSEP := t.solidEntryPointIndex(parent); isSEP {
				if index < target {
					ret[parent] = index
				}
				continue
			}
			pv := t.store.get(parent)
			if pv == nil {
				continue
			}
			if index := pv.MilestoneIndex(); index != 0 && index < target {
				ret[parent] = index
			}
		}
		return true
	})
	return ret
}

func (t *Tangle) evict(ctx context.Context, v *Vertex) {
	id := v.ID()
	t.store.remove(id)
	t.tips.remove(id)

	switch t.cfg.EvictPolicy {
	case config.EvictPersist:
		meta := v.Metadata()
		if err := t.backend.Insert(ctx, id, nil, &meta); err != nil {
			t.log.Warn("failed to persist evicted vertex", zap.Stringer("id", id), zap.Error(err))
		}
	case config.EvictDiscard:
		if err := t.backend.Delete(ctx, id); err != nil {
			t.log.Warn("failed to delete evicted vertex", zap.Stringer("id", id), zap.Error(err))
		}
	}
}

// requestPruning wakes up the pruning loop without blocking
func (t *Tangle) requestPruning() {
	if !t.cfg.PruningEnabled || !t.started.Load() {
		return
	}
	select {
	case t.pruningRequests <- struct{}{}:
	default:
	}
}

// pruningLoop keeps MilestoneCacheDepth milestones behind the solid one in memory
func (t *Tangle) pruningLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-t.stopCh:
			return
		case <-t.pruningRequests:
			solid := uint32(t.ConfirmedMilestoneIndex())
			if solid <= t.cfg.MilestoneCacheDepth {
				continue
			}
			target := models.MilestoneIndex(solid - t.cfg.MilestoneCacheDepth)
			if target <= models.MilestoneIndex(t.prunedIndex.Load()) {
				continue
			}
			if _, err := t.Prune(ctx, target); err != nil {
				t.log.Warn("background pruning failed", zap.Uint32("target", uint32(target)), zap.Error(err))
			}
		}
	}
}
