package dag

import (
	"context"

	"tangle-node/models"

	"github.com/gammazero/deque"
)

// Walker parameterizes a traversal. All callbacks are optional.
type Walker struct {
	// Follow is the stop predicate: a vertex for which it returns false is neither visited nor expanded
	Follow func(v *Vertex) bool
	Visit  func(v *Vertex)
	// OnSEP is called for a solid entry point instead of fetching or expanding it
	OnSEP func(sep models.SolidEntryPoint)
	// OnMissing is called for ids that are neither in memory nor in the backend, or only
	// known as placeholders
	OnMissing func(id models.MessageID)
}

// WalkAncestors walks the past cone of start breadth-first, each vertex at most once.
// Vertices missing from memory are read through from the backend; a backend error or
// a canceled context aborts the walk.
func (t *Tangle) WalkAncestors(ctx context.Context, start []models.MessageID, w Walker) error {
	if err := t.checkAlive(); err != nil {
		return err
	}
	seen := make(map[models.MessageID]struct{})
	queue := new(deque.Deque[models.MessageID])
	for _, id := range start {
		queue.PushBack(id)
	}

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := queue.PopFront()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if index, isSEP := t.solidEntryPointIndex(id); isSEP {
			if w.OnSEP != nil {
				w.OnSEP(models.SolidEntryPoint{ID: id, Index: index})
			}
			continue
		}
		v, err := t.Get(ctx, id)
		if err != nil {
			return err
		}
		var msg *models.Message
		if v != nil {
			msg = v.Message()
		}
		if msg == nil {
			if w.OnMissing != nil {
				w.OnMissing(id)
			}
			continue
		}
		if w.Follow != nil && !w.Follow(v) {
			continue
		}
		if w.Visit != nil {
			w.Visit(v)
		}
		for _, parent := range msg.Parents {
			queue.PushBack(parent)
		}
	}
	return nil
}

// WalkDescendants walks the future cone of start over the in-memory children sets.
// OnSEP and OnMissing are not used.
func (t *Tangle) WalkDescendants(start []models.MessageID, w Walker) error {
	if err := t.checkAlive(); err != nil {
		return err
	}
	seen := make(map[models.MessageID]struct{})
	queue := new(deque.Deque[models.MessageID])
	for _, id := range start {
		queue.PushBack(id)
	}

	for queue.Len() > 0 {
		id := queue.PopFront()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		v := t.store.get(id)
		if v == nil {
			continue
		}
		if w.Follow != nil && !w.Follow(v) {
			continue
		}
		if w.Visit != nil {
			w.Visit(v)
		}
		for _, child := range v.Children() {
			queue.PushBack(child)
		}
	}
	return nil
}
