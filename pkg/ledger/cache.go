package ledger

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// CachedRecorder serves Get from an LRU of records this process appended or read.
// Records are immutable, so entries never go stale.
type CachedRecorder struct {
	next  Recorder
	cache *lru.Cache
}

// NewCachedRecorder wraps next with a cache holding up to size records.
func NewCachedRecorder(next Recorder, size int) (*CachedRecorder, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger cache: %w", err)
	}
	return &CachedRecorder{next: next, cache: cache}, nil
}

var _ Recorder = (*CachedRecorder)(nil)

func (c *CachedRecorder) Append(ctx context.Context, rec Record) (Receipt, error) {
	receipt, err := c.next.Append(ctx, rec)
	if err != nil {
		return Receipt{}, err
	}
	// A replayed key may return an older receipt whose record differs from rec.
	if rec.Id == "" || rec.Id == receipt.Id {
		rec.Id = receipt.Id
		rec.Protocol = receipt.Protocol
		c.cache.Add(rec.Id, rec)
	}
	return receipt, nil
}

func (c *CachedRecorder) Get(ctx context.Context, id string) (Record, error) {
	if v, ok := c.cache.Get(id); ok {
		return v.(Record), nil
	}
	rec, err := c.next.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	c.cache.Add(id, rec)
	return rec, nil
}

// History always goes to the ledger; an aggregate's history keeps growing.
func (c *CachedRecorder) History(ctx context.Context, aggregateID string) ([]Record, error) {
	return c.next.History(ctx, aggregateID)
}
