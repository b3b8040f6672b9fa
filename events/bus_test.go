package events

import (
	"testing"
	"time"

	"tangle-node/models"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, s *Subscription) Event {
	select {
	case e, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
	return nil
}

func TestBusOrderAndFilter(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.Subscribe()
	onlySolid := bus.Subscribe(KindMessageSolidified)

	id := models.NewMessage(nil, []byte("x")).ID
	// publishing never blocks, even with nobody reading yet
	for i := 0; i < 1000; i++ {
		bus.Publish(NewVertex{ID: id})
	}
	bus.Publish(MessageSolidified{ID: id})

	for i := 0; i < 1000; i++ {
		require.Equal(t, KindNewVertex, receive(t, all).Kind())
	}
	e := receive(t, all)
	require.Equal(t, MessageSolidified{ID: id}, e)

	e = receive(t, onlySolid)
	require.Equal(t, KindMessageSolidified, e.Kind())
	require.Equal(t, 0, onlySolid.Pending())
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus()
	s1 := bus.Subscribe()
	s2 := bus.Subscribe()

	s1.Unsubscribe()
	_, ok := <-s1.C()
	require.False(t, ok)

	bus.Publish(ConfirmedMilestoneChanged{Old: 1, New: 2})
	require.Equal(t, ConfirmedMilestoneChanged{Old: 1, New: 2}, receive(t, s2))

	bus.Close()
	_, ok = <-s2.C()
	require.False(t, ok)

	// after close
	bus.Publish(NewVertex{})
	s3 := bus.Subscribe()
	_, ok = <-s3.C()
	require.False(t, ok)
	bus.Close()
}

func TestKindString(t *testing.T) {
	require.Equal(t, "Pruned", Pruned{}.Kind().String())
	require.Equal(t, "LatestMilestoneChanged", KindLatestMilestoneChanged.String())
	require.Equal(t, "Kind(42)", Kind(42).String())
}
