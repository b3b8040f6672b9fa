package dag

import (
	"context"
	"sync"
	"testing"
	"time"

	"tangle-node/config"
	"tangle-node/events"
	"tangle-node/metrics"
	"tangle-node/models"
	"tangle-node/repository"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// mockBackend is an in-memory StorageBackend with failure injection
type mockBackend struct {
	mu         sync.Mutex
	msgs       map[models.MessageID]*models.Message
	metas      map[models.MessageID]models.Metadata
	children   map[models.MessageID]map[models.MessageID]struct{}
	fetchErr   error
	fetchDelay time.Duration
	fetches    int
	inserts    int
	deletes    int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		msgs:     make(map[models.MessageID]*models.Message),
		metas:    make(map[models.MessageID]models.Metadata),
		children: make(map[models.MessageID]map[models.MessageID]struct{}),
	}
}

func (m *mockBackend) Fetch(ctx context.Context, id models.MessageID) (*models.Message, *models.Metadata, error) {
	m.mu.Lock()
	m.fetches++
	delay, fetchErr := m.fetchDelay, m.fetchErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if fetchErr != nil {
		return nil, nil, fetchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.msgs[id]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	if meta, ok := m.metas[id]; ok {
		return msg, &meta, nil
	}
	return msg, nil, nil
}

func (m *mockBackend) Insert(_ context.Context, id models.MessageID, msg *models.Message, meta *models.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inserts++
	if msg != nil {
		m.msgs[id] = msg
		for _, p := range msg.Parents {
			if m.children[p] == nil {
				m.children[p] = make(map[models.MessageID]struct{})
			}
			m.children[p][id] = struct{}{}
		}
	}
	if meta != nil {
		m.metas[id] = *meta
	}
	return nil
}

func (m *mockBackend) Delete(_ context.Context, id models.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	delete(m.msgs, id)
	delete(m.metas, id)
	return nil
}

func (m *mockBackend) FetchChildren(_ context.Context, id models.MessageID) ([]models.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := make([]models.MessageID, 0)
	for c := range m.children[id] {
		ret = append(ret, c)
	}
	return ret, nil
}

func (m *mockBackend) has(id models.MessageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.msgs[id]
	return ok
}

func (m *mockBackend) metadata(id models.MessageID) (models.Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metas[id]
	return meta, ok
}

func (m *mockBackend) setFetchErr(err error, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr, m.fetchDelay = err, delay
}

func (m *mockBackend) numFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

var errIO = errors.New("disk on fire")

func testConfig() config.TangleConfig {
	cfg := config.DefaultTangleConfig()
	cfg.PruningEnabled = false
	cfg.FetchTimeout = 200 * time.Millisecond
	return cfg
}

func newTestTangle(t *testing.T, cfgs ...config.TangleConfig) (*Tangle, *mockBackend, *events.Bus) {
	cfg := testConfig()
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	backend := newMockBackend()
	bus := events.NewBus()
	tangle, err := New(cfg, backend, bus, metrics.NewNop())
	require.NoError(t, err)
	tangle.Start()
	t.Cleanup(func() {
		tangle.Shutdown()
		bus.Close()
	})
	return tangle, backend, bus
}

func insert(t *testing.T, tangle *Tangle, msg *models.Message) *Vertex {
	v, _, err := tangle.Insert(context.Background(), msg)
	require.NoError(t, err)
	return v
}

func msgWith(body string, parents ...*models.Message) *models.Message {
	return models.NewMessage(ids(parents...), []byte(body))
}

func milestoneWith(index models.MilestoneIndex, parents ...*models.Message) *models.Message {
	return models.NewMilestone(index, ids(parents...), nil)
}

func ids(msgs ...*models.Message) []models.MessageID {
	ret := make([]models.MessageID, len(msgs))
	for i, m := range msgs {
		ret[i] = m.ID
	}
	return ret
}

func stateOf(tangle *Tangle, m *models.Message) models.VertexState {
	v := tangle.store.get(m.ID)
	if v == nil {
		return models.Unknown
	}
	return v.State()
}

func indexOf(tangle *Tangle, m *models.Message) models.MilestoneIndex {
	v := tangle.store.get(m.ID)
	if v == nil {
		return 0
	}
	return v.MilestoneIndex()
}

func expectEvent(t *testing.T, sub *events.Subscription) events.Event {
	select {
	case e, ok := <-sub.C():
		require.True(t, ok)
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an event")
	}
	return nil
}

func expectNoEvent(t *testing.T, sub *events.Subscription) {
	select {
	case e := <-sub.C():
		t.Fatalf("unexpected event %#v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

// milestoneChain builds G <- M1 <- ... <- Mn where every milestone also confirms one ordinary
// message X_i attached to the previous milestone. Returns milestones (index 0 is G) and the X_i.
func milestoneChain(t *testing.T, tangle *Tangle, n int) ([]*models.Message, []*models.Message) {
	g := msgWith("genesis")
	insert(t, tangle, g)
	ms := []*models.Message{g}
	xs := []*models.Message{nil}
	for i := 1; i <= n; i++ {
		x := msgWith("x", ms[i-1])
		insert(t, tangle, x)
		m := milestoneWith(models.MilestoneIndex(i), ms[i-1], x)
		insert(t, tangle, m)
		ms = append(ms, m)
		xs = append(xs, x)
	}
	require.EqualValues(t, n, tangle.ConfirmedMilestoneIndex())
	return ms, xs
}
