package events

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/sourcegraph/conc"
)

// Bus delivers events to subscribers. Every subscription buffers into its own unbounded
// queue, so Publish never blocks and never drops. Order is FIFO per subscription, which
// keeps events about one vertex in causal order.
type Bus struct {
	mutex  sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	wg     conc.WaitGroup
}

type Subscription struct {
	id    uint64
	bus   *Bus
	kinds map[Kind]struct{}

	mutex  sync.Mutex
	cond   *sync.Cond
	queue  *deque.Deque[Event]
	closed bool

	out  chan Event
	done chan struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe returns a subscription to the given kinds, or to all events if none are given
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	s := &Subscription{
		bus:   b,
		kinds: make(map[Kind]struct{}, len(kinds)),
		queue: new(deque.Deque[Event]),
		out:   make(chan Event),
		done:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mutex)
	for _, k := range kinds {
		s.kinds[k] = struct{}{}
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		s.closed = true
		close(s.done)
		close(s.out)
		return s
	}
	s.id = b.nextID
	b.nextID++
	b.subs[s.id] = s
	b.wg.Go(s.deliverLoop)
	return s
}

// Publish hands the event to every interested subscriber. No-op after Close.
func (b *Bus) Publish(e Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(e)
	}
}

// Close terminates all subscriptions and waits for their goroutines
func (b *Bus) Close() {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mutex.Unlock()

	for _, s := range subs {
		s.stop()
	}
	b.wg.Wait()
}

// C is closed when the subscription ends
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Pending is the number of events queued but not yet received
func (s *Subscription) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.queue.Len()
}

// Unsubscribe drops the undelivered events and closes C
func (s *Subscription) Unsubscribe() {
	s.bus.mutex.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mutex.Unlock()

	s.stop()
}

func (s *Subscription) push(e Event) {
	if len(s.kinds) > 0 {
		if _, ok := s.kinds[e.Kind()]; !ok {
			return
		}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}
	s.queue.PushBack(e)
	s.cond.Signal()
}

func (s *Subscription) stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Signal()
}

func (s *Subscription) deliverLoop() {
	defer close(s.out)

	for {
		s.mutex.Lock()
		for s.queue.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mutex.Unlock()
			return
		}
		e := s.queue.PopFront()
		s.mutex.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
