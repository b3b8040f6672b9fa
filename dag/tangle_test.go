package dag

import (
	"context"
	"testing"
	"time"

	"tangle-node/config"
	"tangle-node/events"
	"tangle-node/metrics"
	"tangle-node/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BelowMaxDepth = 0
	_, err := New(cfg, newMockBackend(), events.NewBus(), metrics.NewNop())
	require.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestGenesisIsSolidTip(t *testing.T) {
	tangle, backend, _ := newTestTangle(t)

	g := msgWith("genesis")
	v, isNew, err := tangle.Insert(context.Background(), g)
	require.NoError(t, err)
	require.True(t, isNew)
	require.True(t, v.IsSolid())
	require.Equal(t, models.Solid, v.State())
	require.True(t, tangle.IsTip(g.ID))
	require.True(t, backend.has(g.ID))
}

func TestChildReplacesParentInTipPool(t *testing.T) {
	tangle, _, _ := newTestTangle(t)

	g := msgWith("genesis")
	c := msgWith("c", g)
	insert(t, tangle, g)
	vc := insert(t, tangle, c)

	require.True(t, vc.IsSolid())
	require.True(t, tangle.IsTip(c.ID))
	require.False(t, tangle.IsTip(g.ID))
	require.Equal(t, []models.MessageID{c.ID}, tangle.store.get(g.ID).Children())
}

func TestIdempotentInsert(t *testing.T) {
	tangle, backend, bus := newTestTangle(t)
	sub := bus.Subscribe(events.KindNewVertex)

	g := msgWith("genesis")
	v1, isNew, err := tangle.Insert(context.Background(), g)
	require.NoError(t, err)
	require.True(t, isNew)
	inserts := backend.inserts

	v2, isNew, err := tangle.Insert(context.Background(), g)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Same(t, v1, v2)
	require.Equal(t, inserts, backend.inserts)
	require.Equal(t, 1, tangle.Len())

	require.Equal(t, events.NewVertex{ID: g.ID}, expectEvent(t, sub))
	expectNoEvent(t, sub)
}

func TestInsertInvalid(t *testing.T) {
	tangle, _, _ := newTestTangle(t)

	g := msgWith("genesis")
	bad := models.NewMessage([]models.MessageID{g.ID, g.ID}, nil)
	_, _, err := tangle.Insert(context.Background(), bad)
	require.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestInsertKnownByBackend(t *testing.T) {
	tangle, backend, bus := newTestTangle(t)
	sub := bus.Subscribe(events.KindNewVertex)

	g := msgWith("genesis")
	require.NoError(t, backend.Insert(context.Background(), g.ID, g, &models.Metadata{Flags: models.FlagSolid, MilestoneIndex: 4}))

	v, isNew, err := tangle.Insert(context.Background(), g)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, models.Confirmed, v.State())
	require.EqualValues(t, 4, v.MilestoneIndex())
	expectNoEvent(t, sub)
}

func TestGetReadThrough(t *testing.T) {
	ctx := context.Background()
	tangle, backend, _ := newTestTangle(t)

	g := msgWith("genesis")
	c := msgWith("c", g)
	require.NoError(t, backend.Insert(ctx, g.ID, g, &models.Metadata{Flags: models.FlagSolid}))
	require.NoError(t, backend.Insert(ctx, c.ID, c, nil))

	v, err := tangle.Get(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.True(t, tangle.Contains(g.ID))
	require.True(t, v.IsSolid())
	require.Equal(t, []models.MessageID{c.ID}, v.Children())

	// second call served from memory
	fetches := backend.numFetches()
	_, err = tangle.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, fetches, backend.numFetches())

	v, err = tangle.Get(ctx, msgWith("nowhere").ID)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestGetBackendFailure(t *testing.T) {
	ctx := context.Background()
	tangle, backend, _ := newTestTangle(t)
	g := msgWith("genesis")

	backend.setFetchErr(errIO, 0)
	v, err := tangle.Get(ctx, g.ID)
	require.Nil(t, v)
	require.True(t, errors.Is(err, ErrBackendUnavailable))

	// a fetch exceeding the timeout is a recoverable failure as well
	backend.setFetchErr(nil, time.Second)
	start := time.Now()
	_, err = tangle.Get(ctx, g.ID)
	require.True(t, errors.Is(err, ErrBackendUnavailable))
	require.Less(t, time.Since(start), time.Second)

	// the tangle keeps working
	backend.setFetchErr(nil, 0)
	insert(t, tangle, g)
	require.True(t, tangle.IsTip(g.ID))
}

func TestPlaceholderFilledFromBackend(t *testing.T) {
	ctx := context.Background()
	tangle, backend, _ := newTestTangle(t)

	g := msgWith("genesis")
	p := msgWith("p", g)
	c := msgWith("c", p)
	insert(t, tangle, g)

	// p is only in the backend: inserting c loads it while registering the edge
	require.NoError(t, backend.Insert(ctx, p.ID, p, nil))
	vc := insert(t, tangle, c)
	require.True(t, vc.IsSolid())
	require.Equal(t, models.Solid, stateOf(tangle, p))
	require.False(t, tangle.IsTip(p.ID))
	require.False(t, tangle.IsTip(g.ID))
	require.Equal(t, []models.MessageID{c.ID}, tangle.Tips())
}

func TestUnwrap(t *testing.T) {
	tangle, _, _ := newTestTangle(t)

	g := msgWith("genesis")
	missing := msgWith("missing")
	c := msgWith("c", g, missing)
	insert(t, tangle, g)
	insert(t, tangle, c)

	states := make(map[models.MessageID]string)
	for _, m := range []*models.Message{g, missing, c} {
		id := m.ID
		tangle.store.get(id).Unwrap(UnwrapOptions{
			Unknown:   func() { states[id] = "unknown" },
			Pending:   func(*models.Message, models.Metadata) { states[id] = "pending" },
			Solid:     func(*models.Message, models.Metadata) { states[id] = "solid" },
			Confirmed: func(*models.Message, models.Metadata) { states[id] = "confirmed" },
		})
	}
	require.Equal(t, "solid", states[g.ID])
	require.Equal(t, "unknown", states[missing.ID])
	require.Equal(t, "pending", states[c.ID])
	require.ElementsMatch(t, []models.MessageID{g.ID}, tangle.Unreferenced())
}

func TestShutdown(t *testing.T) {
	tangle, _, _ := newTestTangle(t)
	tangle.Shutdown()
	tangle.Shutdown()

	_, _, err := tangle.Insert(context.Background(), msgWith("genesis"))
	require.True(t, errors.Is(err, ErrShutdown))
	_, err = tangle.SelectTips(1)
	require.True(t, errors.Is(err, ErrShutdown))
	_, err = tangle.Prune(context.Background(), 1)
	require.True(t, errors.Is(err, ErrShutdown))
}

func TestStatus(t *testing.T) {
	tangle, _, _ := newTestTangle(t)
	milestoneChain(t, tangle, 3)

	st := tangle.Status()
	require.EqualValues(t, 3, st.SolidMilestoneIndex)
	require.EqualValues(t, 3, st.LatestMilestoneIndex)
	require.True(t, st.Synced)
	require.Equal(t, 7, st.Vertices)
	require.Equal(t, 1, st.Tips)
}

func TestSolidParentLoadedAfterFetchFailure(t *testing.T) {
	ctx := context.Background()
	tangle, backend, _ := newTestTangle(t)

	// p was evicted with its final metadata; its own parents are gone from memory
	p := msgWith("p", msgWith("pruned genesis"))
	c := msgWith("c", p)
	require.NoError(t, backend.Insert(ctx, p.ID, p, &models.Metadata{Flags: models.FlagSolid | models.FlagReferenced, MilestoneIndex: 3}))

	backend.setFetchErr(errIO, 0)
	vc := insert(t, tangle, c)
	require.Equal(t, models.Pending, vc.State())
	require.Equal(t, models.Unknown, stateOf(tangle, p))

	backend.setFetchErr(nil, 0)
	vp, isNew, err := tangle.Insert(ctx, p)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, models.Confirmed, vp.State())
	require.Equal(t, models.Solid, vc.State())
	require.Equal(t, []models.MessageID{c.ID}, tangle.Tips())
}

func TestLoadedSolidVertexBecomesTip(t *testing.T) {
	ctx := context.Background()
	tangle, backend, _ := newTestTangle(t)

	q := msgWith("q", msgWith("pruned genesis"))
	require.NoError(t, backend.Insert(ctx, q.ID, q, &models.Metadata{Flags: models.FlagSolid}))

	v, err := tangle.Get(ctx, q.ID)
	require.NoError(t, err)
	require.True(t, v.IsSolid())
	require.True(t, tangle.IsTip(q.ID))
}

func TestSecondGenesisRejected(t *testing.T) {
	ctx := context.Background()
	tangle, _, _ := newTestTangle(t)

	g := msgWith("genesis")
	insert(t, tangle, g)

	_, _, err := tangle.Insert(ctx, msgWith("another genesis"))
	require.True(t, errors.Is(err, ErrInvalidMessage))
	require.Equal(t, 1, tangle.Len())

	_, isNew, err := tangle.Insert(ctx, g)
	require.NoError(t, err)
	require.False(t, isNew)
}

func TestRequestedPlaceholders(t *testing.T) {
	tangle, _, _ := newTestTangle(t)

	g := msgWith("genesis")
	p := msgWith("p", g)
	c := msgWith("c", p)
	insert(t, tangle, g)
	insert(t, tangle, c)

	require.Equal(t, []models.MessageID{p.ID}, tangle.Requested())
	require.Equal(t, "[requested]", tangle.store.get(p.ID).Metadata().Flags.String())

	insert(t, tangle, p)
	require.Empty(t, tangle.Requested())
	require.False(t, tangle.store.get(p.ID).Metadata().Flags.Has(models.FlagRequested))
	require.Equal(t, models.Solid, stateOf(tangle, c))
}
