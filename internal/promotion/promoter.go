package promotion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/autarch/internal/snapshot"
)

// Promoter holds the single "current" descriptor the hot path reads, plus
// the retained map of every descriptor promoted this process lifetime.
//
// Thread-safety: Current, Get, and Chain are safe for unlimited concurrent
// callers and never block. Promote and Rollback follow single-writer
// discipline - exactly one coordinator goroutine may call them.
//
// CRITICAL: the promotion critical path is one retained-map store plus one
// atomic pointer swap. No I/O, no lock acquisition, nothing that can make
// a reader wait.
type Promoter struct {
	current  atomic.Pointer[snapshot.Descriptor]
	retained sync.Map // snapshot.ID -> *snapshot.Descriptor
}

// NewPromoter creates a promoter with nothing promoted yet.
// Current() returns nil until the genesis promotion lands.
func NewPromoter() *Promoter {
	return &Promoter{}
}

// Current returns the live descriptor with a wait-free atomic load.
// Returns nil before the first promotion.
//
// A caller that observes a descriptor after Promote has returned is
// guaranteed to see that descriptor or a later one, never an older one
// (single-writer total order on the current slot).
func (p *Promoter) Current() *snapshot.Descriptor {
	return p.current.Load()
}

// Get looks up a retained descriptor by id.
// Fails with SNAPSHOT_NOT_FOUND if the id was never promoted.
func (p *Promoter) Get(id snapshot.ID) (*snapshot.Descriptor, error) {
	if d, ok := p.retained.Load(id); ok {
		return d.(*snapshot.Descriptor), nil
	}
	return nil, NewError(ErrCodeSnapshotNotFound, id, "snapshot not retained")
}

// Promote makes d the current descriptor.
//
// The claimed parent, if any, must already be retained - promoting onto an
// unknown parent fails with SNAPSHOT_NOT_FOUND and leaves current
// untouched. On success the previously-current descriptor is returned
// (nil for the genesis promotion).
//
// Ordering: retained store happens BEFORE the pointer swap so any reader
// holding the new current can resolve it and its lineage in the map.
func (p *Promoter) Promote(d *snapshot.Descriptor) (*snapshot.Descriptor, error) {
	if d == nil {
		return nil, NewError(ErrCodePromotionFailed, snapshot.ID{}, "nil descriptor")
	}
	if d.ParentID != nil {
		if _, ok := p.retained.Load(*d.ParentID); !ok {
			return nil, NewError(ErrCodeSnapshotNotFound, *d.ParentID, "parent snapshot not retained")
		}
	}

	p.retained.Store(d.SnapshotID, d)
	prev := p.current.Swap(d)
	return prev, nil
}

// Rollback restores current to the descriptor named by the current
// descriptor's parent link, exactly as it was originally promoted
// (original generation, original timestamp).
//
// Fails with PROMOTION_FAILED at genesis (no parent) or before any
// promotion. For the audited, generation-advancing reversal used by the
// control loop, see the rollback package.
func (p *Promoter) Rollback() (*snapshot.Descriptor, error) {
	cur := p.current.Load()
	if cur == nil {
		return nil, NewError(ErrCodePromotionFailed, snapshot.ID{}, "nothing promoted")
	}
	if cur.ParentID == nil {
		return nil, NewError(ErrCodePromotionFailed, cur.SnapshotID, "current snapshot has no parent")
	}

	parent, err := p.Get(*cur.ParentID)
	if err != nil {
		return nil, err
	}
	p.current.Store(parent)
	return parent, nil
}

// Chain walks parent links from current back to genesis.
// Diagnostics only - never on the hot path. The visited guard makes the
// walk terminate even on a corrupted lineage.
func (p *Promoter) Chain() []*snapshot.Descriptor {
	var chain []*snapshot.Descriptor
	visited := make(map[snapshot.ID]bool)

	cur := p.current.Load()
	for cur != nil && !visited[cur.SnapshotID] {
		visited[cur.SnapshotID] = true
		chain = append(chain, cur)
		if cur.ParentID == nil {
			break
		}
		next, ok := p.retained.Load(*cur.ParentID)
		if !ok {
			break
		}
		cur = next.(*snapshot.Descriptor)
	}
	return chain
}

// RetainedCount reports how many distinct ids are retained.
// Diagnostics only.
func (p *Promoter) RetainedCount() int {
	n := 0
	p.retained.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// LastPromotedAt returns when the current descriptor was promoted,
// zero time if nothing is promoted. Used by the grace-period gate.
func (p *Promoter) LastPromotedAt() time.Time {
	if cur := p.current.Load(); cur != nil {
		return cur.PromotedAt
	}
	return time.Time{}
}
