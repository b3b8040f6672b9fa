package dag

import (
	"context"
	"sync"

	"tangle-node/config"
	"tangle-node/events"
	"tangle-node/logger"
	"tangle-node/metrics"
	"tangle-node/models"
	"tangle-node/repository"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Tangle is the in-memory DAG of messages with its consensus bookkeeping. It is built once
// per node process, started, and shut down exactly once.
type Tangle struct {
	cfg     config.TangleConfig
	backend repository.StorageBackend
	bus     *events.Bus
	metrics *metrics.TangleMetrics
	log     *zap.Logger

	store   *vertexStore
	tips    *tipPool
	arrival atomic.Uint64

	// sepMutex guards seps. The set is replaced as a whole by the pruner.
	sepMutex sync.RWMutex
	seps     map[models.MessageID]models.MilestoneIndex

	// the only parentless message accepted by Insert
	genesisMutex sync.Mutex
	genesis      *models.MessageID

	// msMutex serializes confirmation walks and pruning
	msMutex           sync.Mutex
	milestonesMutex   sync.RWMutex
	milestones        map[models.MilestoneIndex]models.MessageID
	solidMilestone    atomic.Uint32
	latestMilestone   atomic.Uint32
	prunedIndex       atomic.Uint32
	advanceRequests   chan struct{}
	pruningRequests   chan struct{}
	stopCh            chan struct{}
	wg                conc.WaitGroup
	started, shutdown atomic.Bool
}

// Status is a point in time summary of the tangle
type Status struct {
	SolidMilestoneIndex  models.MilestoneIndex `json:"solid_milestone_index"`
	LatestMilestoneIndex models.MilestoneIndex `json:"latest_milestone_index"`
	PrunedIndex          models.MilestoneIndex `json:"pruned_index"`
	Synced               bool                  `json:"synced"`
	Vertices             int                   `json:"vertices"`
	Tips                 int                   `json:"tips"`
	SolidEntryPoints     int                   `json:"solid_entry_points"`
}

// New builds a tangle. The configuration must be valid.
func New(cfg config.TangleConfig, backend repository.StorageBackend, bus *events.Bus, m *metrics.TangleMetrics) (*Tangle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tangle{
		cfg:             cfg,
		backend:         backend,
		bus:             bus,
		metrics:         m,
		log:             logger.Named("tangle"),
		store:           newVertexStore(),
		tips:            newTipPool(),
		seps:            make(map[models.MessageID]models.MilestoneIndex),
		milestones:      make(map[models.MilestoneIndex]models.MessageID),
		advanceRequests: make(chan struct{}, 1),
		pruningRequests: make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}, nil
}

// Start launches the background advance and pruning loops
func (t *Tangle) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	t.wg.Go(t.advanceLoop)
	t.wg.Go(t.pruningLoop)
	t.log.Info("tangle started",
		zap.Uint32("below_max_depth", t.cfg.BelowMaxDepth),
		zap.Uint32("milestone_cache_depth", t.cfg.MilestoneCacheDepth),
		zap.Uint32("sync_threshold", t.cfg.SyncThreshold))
}

// Shutdown is a hard stop: nothing is flushed, every write already happened or is discardable
func (t *Tangle) Shutdown() {
	if !t.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(t.stopCh)
	t.wg.Wait()
	t.log.Info("tangle shut down")
}

func (t *Tangle) checkAlive() error {
	if t.shutdown.Load() {
		return ErrShutdown
	}
	return nil
}

// Insert adds an already validated message. Re-inserting a known message returns the
// existing vertex and false, with no write and no event.
func (t *Tangle) Insert(ctx context.Context, msg *models.Message) (*Vertex, bool, error) {
	if err := t.checkAlive(); err != nil {
		return nil, false, err
	}
	if err := msg.Validate(); err != nil {
		return nil, false, errors.Wrap(ErrInvalidMessage, err.Error())
	}
	if v := t.store.get(msg.ID); v != nil && v.Message() != nil {
		return v, false, nil
	}
	if v, err := t.loadFromBackend(ctx, msg.ID); err != nil {
		t.log.Warn("backend lookup failed, inserting as new", zap.Stringer("id", msg.ID), zap.Error(err))
	} else if v != nil && v.Message() != nil {
		return v, false, nil
	}

	if msg.IsGenesis() {
		if err := t.claimGenesis(msg.ID); err != nil {
			return nil, false, err
		}
	}

	v, _ := t.store.getOrCreate(msg.ID)
	if !v.setMessage(msg, t.arrival.Inc()) {
		return v, false, nil
	}
	t.metrics.NewVertices.Inc()
	t.metrics.Vertices.Set(float64(t.store.len()))

	meta := v.Metadata()
	if err := t.backend.Insert(ctx, msg.ID, msg, &meta); err != nil {
		t.log.Warn("failed to persist message", zap.Stringer("id", msg.ID), zap.Error(err))
	}
	t.bus.Publish(events.NewVertex{ID: msg.ID, Milestone: msg.MilestoneIndex()})

	for _, parent := range msg.Parents {
		t.addEdge(ctx, msg.ID, parent)
	}
	milestoneSolidified := t.solidify(v)

	if msg.IsMilestone() {
		if err := t.ProcessMilestone(ctx, msg); err != nil {
			t.log.Warn("milestone rejected", zap.Stringer("id", msg.ID),
				zap.Uint32("index", uint32(msg.MilestoneIndex())), zap.Error(err))
		}
	} else if milestoneSolidified {
		t.tryAdvance(ctx)
	}
	return v, true, nil
}

// Get returns the vertex from memory, or reads it through from the backend. Not found is (nil, nil).
// A vertex known only as a parent is returned in Unknown state unless the backend has it.
func (t *Tangle) Get(ctx context.Context, id models.MessageID) (*Vertex, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	if v := t.store.get(id); v != nil && v.Message() != nil {
		return v, nil
	}
	if t.IsSolidEntryPoint(id) {
		return t.store.get(id), nil
	}
	return t.loadFromBackend(ctx, id)
}

// addEdge registers child in the parent's children set. A parent unknown in memory is looked
// up in the backend first and becomes an Unknown placeholder if it is not there either.
// Solid entry points are never fetched.
func (t *Tangle) addEdge(ctx context.Context, child, parent models.MessageID) {
	pv := t.store.get(parent)
	if pv == nil {
		if t.IsSolidEntryPoint(parent) {
			return
		}
		var err error
		if pv, err = t.loadFromBackend(ctx, parent); err != nil {
			t.log.Debug("parent lookup failed", zap.Stringer("parent", parent), zap.Error(err))
		}
		if pv == nil {
			pv, _ = t.store.getOrCreate(parent)
			pv.markRequested()
			t.metrics.Vertices.Set(float64(t.store.len()))
		}
	}
	pv.addChild(child)
	t.tips.remove(parent)
	t.metrics.Tips.Set(float64(t.tips.len()))
}

// loadFromBackend fetches the message and, if found, stores it in memory or fills an existing
// placeholder. It returns whatever is in memory under id afterwards.
func (t *Tangle) loadFromBackend(ctx context.Context, id models.MessageID) (*Vertex, error) {
	msg, meta, err := t.fetch(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return t.store.get(id), nil
	}
	if err != nil {
		t.metrics.BackendFetchFailures.Inc()
		return nil, errors.Wrapf(ErrBackendUnavailable, "fetch %s: %v", id.Short(), err)
	}
	children, err := t.backend.FetchChildren(ctx, id)
	if err != nil {
		t.log.Debug("failed to fetch children", zap.Stringer("id", id), zap.Error(err))
	}
	var md models.Metadata
	if meta != nil {
		md = *meta
	} else {
		md.ArrivalOrder = t.arrival.Inc()
	}

	v, _ := t.store.getOrCreate(id)
	if v.setLoaded(msg, md, children) {
		t.metrics.Vertices.Set(float64(t.store.len()))
		// parents already in memory learn about the loaded child; absent ones stay absent
		for _, parent := range msg.Parents {
			if pv := t.store.get(parent); pv != nil {
				pv.addChild(id)
				t.tips.remove(parent)
			}
		}
		// a placeholder may have children waiting for this payload. The milestone lock may be
		// held here (confirmation walk), so advancing is left to the advance loop.
		if t.solidify(v) {
			t.requestAdvance()
		}
	}
	return v, nil
}

// claimGenesis admits one parentless message. None is admitted once history was pruned.
func (t *Tangle) claimGenesis(id models.MessageID) error {
	t.genesisMutex.Lock()
	defer t.genesisMutex.Unlock()

	if t.genesis != nil {
		if *t.genesis == id {
			return nil
		}
		return errors.Wrapf(ErrInvalidMessage, "parentless message %s, genesis is %s", id.Short(), t.genesis.Short())
	}
	if len(t.SolidEntryPoints()) > 0 {
		return errors.Wrapf(ErrInvalidMessage, "parentless message %s after pruning", id.Short())
	}
	t.genesis = &id
	return nil
}

// fetch is the only place the tangle waits on I/O. It is bounded by FetchTimeout.
func (t *Tangle) fetch(ctx context.Context, id models.MessageID) (*models.Message, *models.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		msg  *models.Message
		meta *models.Metadata
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		msg, meta, err := t.backend.Fetch(ctx, id)
		resCh <- result{msg, meta, err}
	}()

	select {
	case res := <-resCh:
		if res.err == nil && res.msg == nil {
			return nil, nil, repository.ErrNotFound
		}
		return res.msg, res.meta, res.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Contains reports whether the payload of id is in memory
func (t *Tangle) Contains(id models.MessageID) bool {
	v := t.store.get(id)
	return v != nil && v.Message() != nil
}

// Len is the number of vertices in memory, placeholders included
func (t *Tangle) Len() int {
	return t.store.len()
}

func (t *Tangle) SolidEntryPoints() []models.SolidEntryPoint {
	t.sepMutex.RLock()
	defer t.sepMutex.RUnlock()

	ret := make([]models.SolidEntryPoint, 0, len(t.seps))
	for id, index := range t.seps {
		ret = append(ret, models.SolidEntryPoint{ID: id, Index: index})
	}
	return ret
}

func (t *Tangle) IsSolidEntryPoint(id models.MessageID) bool {
	_, ok := t.solidEntryPointIndex(id)
	return ok
}

func (t *Tangle) solidEntryPointIndex(id models.MessageID) (models.MilestoneIndex, bool) {
	t.sepMutex.RLock()
	defer t.sepMutex.RUnlock()

	index, ok := t.seps[id]
	return index, ok
}

// Requested lists placeholders: ids referenced as parents whose payload is missing
func (t *Tangle) Requested() []models.MessageID {
	ret := make([]models.MessageID, 0)
	t.store.forEach(func(v *Vertex) bool {
		if v.Metadata().Flags.Has(models.FlagRequested) {
			ret = append(ret, v.ID())
		}
		return true
	})
	return ret
}

// Unreferenced lists solid messages not yet confirmed by any milestone
func (t *Tangle) Unreferenced() []models.MessageID {
	ret := make([]models.MessageID, 0)
	t.store.forEach(func(v *Vertex) bool {
		if v.State() == models.Solid {
			ret = append(ret, v.ID())
		}
		return true
	})
	return ret
}

func (t *Tangle) Status() Status {
	t.sepMutex.RLock()
	numSEPs := len(t.seps)
	t.sepMutex.RUnlock()

	return Status{
		SolidMilestoneIndex:  t.ConfirmedMilestoneIndex(),
		LatestMilestoneIndex: t.LatestMilestoneIndex(),
		PrunedIndex:          models.MilestoneIndex(t.prunedIndex.Load()),
		Synced:               t.IsSynced(),
		Vertices:             t.store.len(),
		Tips:                 t.tips.len(),
		SolidEntryPoints:     numSEPs,
	}
}
