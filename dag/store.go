package dag

import (
	"sync"

	"tangle-node/models"

	"go.uber.org/atomic"
)

const numShards = 64

type shard struct {
	mutex    sync.RWMutex
	vertices map[models.MessageID]*Vertex
}

// vertexStore is the identifier -> vertex map. It is split into shards selected by the first
// byte of the id (a hash, so uniform); there is no lock spanning the whole map.
type vertexStore struct {
	shards [numShards]shard
	count  atomic.Int64
}

func newVertexStore() *vertexStore {
	ret := &vertexStore{}
	for i := range ret.shards {
		ret.shards[i].vertices = make(map[models.MessageID]*Vertex)
	}
	return ret
}

func (s *vertexStore) shardOf(id models.MessageID) *shard {
	return &s.shards[int(id[0])%numShards]
}

func (s *vertexStore) get(id models.MessageID) *Vertex {
	sh := s.shardOf(id)
	sh.mutex.RLock()
	defer sh.mutex.RUnlock()

	return sh.vertices[id]
}

// getOrCreate returns the vertex for id, creating an Unknown placeholder when absent
func (s *vertexStore) getOrCreate(id models.MessageID) (*Vertex, bool) {
	sh := s.shardOf(id)
	if v := s.get(id); v != nil {
		return v, false
	}
	sh.mutex.Lock()
	defer sh.mutex.Unlock()

	if v, ok := sh.vertices[id]; ok {
		return v, false
	}
	v := newVertex(id)
	sh.vertices[id] = v
	s.count.Inc()
	return v, true
}

func (s *vertexStore) remove(id models.MessageID) bool {
	sh := s.shardOf(id)
	sh.mutex.Lock()
	defer sh.mutex.Unlock()

	if _, ok := sh.vertices[id]; !ok {
		return false
	}
	delete(sh.vertices, id)
	s.count.Dec()
	return true
}

// forEach visits a per-shard snapshot, so fn may call back into the store
func (s *vertexStore) forEach(fn func(v *Vertex) bool) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mutex.RLock()
		snapshot := make([]*Vertex, 0, len(sh.vertices))
		for _, v := range sh.vertices {
			snapshot = append(snapshot, v)
		}
		sh.mutex.RUnlock()

		for _, v := range snapshot {
			if !fn(v) {
				return
			}
		}
	}
}

func (s *vertexStore) len() int {
	return int(s.count.Load())
}
