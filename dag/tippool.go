package dag

import (
	"math/rand"
	"sync"
	"time"

	"tangle-node/models"

	"github.com/pkg/errors"
)

// tipPool holds the solid childless vertices. Removal on a new child edge and insertion on
// solidification both check the children under the pool lock, so a vertex that gained a child
// never stays in the pool.
type tipPool struct {
	mutex sync.RWMutex
	tips  map[models.MessageID]*Vertex

	rndMutex sync.Mutex
	rnd      *rand.Rand
}

func newTipPool() *tipPool {
	return &tipPool{
		tips: make(map[models.MessageID]*Vertex),
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *tipPool) addIfTip(v *Vertex) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !v.IsSolid() || v.NumChildren() > 0 {
		return false
	}
	p.tips[v.ID()] = v
	return true
}

func (p *tipPool) remove(id models.MessageID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.tips, id)
}

func (p *tipPool) contains(id models.MessageID) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	_, ok := p.tips[id]
	return ok
}

func (p *tipPool) len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.tips)
}

func (p *tipPool) snapshot() []*Vertex {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ret := make([]*Vertex, 0, len(p.tips))
	for _, v := range p.tips {
		ret = append(ret, v)
	}
	return ret
}

// sample picks up to n vertices uniformly at random with a partial Fisher-Yates shuffle
func (p *tipPool) sample(candidates []*Vertex, n int) []*Vertex {
	if n > len(candidates) {
		n = len(candidates)
	}
	p.rndMutex.Lock()
	defer p.rndMutex.Unlock()

	for i := 0; i < n; i++ {
		j := i + p.rnd.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:n]
}

// isTipEligible implements the staleness filter. The metric is the index of the youngest confirmed
// ancestor of the tip (the tip itself if confirmed, a solid entry point counts with its index):
// the tip is eligible when the solid milestone index is at most BelowMaxDepth ahead of it.
func (t *Tangle) isTipEligible(v *Vertex, solid models.MilestoneIndex) bool {
	if v.NumChildren() > 0 || !v.IsSolid() {
		return false
	}
	_, ymrsi := v.rootSnapshotIndexes()
	if ymrsi >= solid {
		return true
	}
	return uint32(solid-ymrsi) <= t.cfg.BelowMaxDepth
}

// SelectTips returns up to count distinct tips chosen uniformly among the eligible ones.
// If fewer than count are eligible, the latest solid milestone is added as a fallback tip.
// ErrNotReady means there is neither an eligible tip nor a solid milestone.
func (t *Tangle) SelectTips(count int) ([]models.MessageID, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, errors.Wrapf(ErrInvalidTipCount, "%d", count)
	}
	solid := t.ConfirmedMilestoneIndex()

	candidates := t.tips.snapshot()
	eligible := candidates[:0]
	for _, v := range candidates {
		if t.isTipEligible(v, solid) {
			eligible = append(eligible, v)
		}
	}
	selected := t.tips.sample(eligible, count)

	ret := make([]models.MessageID, 0, count)
	for _, v := range selected {
		ret = append(ret, v.ID())
	}
	if len(ret) < count && solid > 0 {
		if msID, ok := t.Milestone(solid); ok && !containsID(ret, msID) {
			ret = append(ret, msID)
		}
	}
	if len(ret) == 0 {
		return nil, ErrNotReady
	}
	return ret, nil
}

// Tips lists the current tip pool, eligible or not
func (t *Tangle) Tips() []models.MessageID {
	snapshot := t.tips.snapshot()
	ret := make([]models.MessageID, len(snapshot))
	for i, v := range snapshot {
		ret[i] = v.ID()
	}
	return ret
}

func (t *Tangle) IsTip(id models.MessageID) bool {
	return t.tips.contains(id)
}

func containsID(ids []models.MessageID, id models.MessageID) bool {
	for i := range ids {
		if ids[i] == id {
			return true
		}
	}
	return false
}
