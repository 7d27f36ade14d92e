package registry

import (
	"fmt"
	"sort"
	"sync"

	domain "github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
)

type entry struct {
	owner domain.BundleID
	feed  *domain.Feed
}

// Feeds is the in-process lookup of loaded schedule feeds, keyed by feed id.
// One instance is created at startup and injected wherever feeds are
// registered or queried.
type Feeds struct {
	mu    sync.RWMutex
	feeds map[string]entry
}

func NewFeeds() *Feeds {
	return &Feeds{feeds: make(map[string]entry)}
}

// RegisterAll adds every feed under owner or none of them. It fails with
// ErrDuplicateFeed when any id is already registered or repeats in feeds.
func (r *Feeds) RegisterAll(owner domain.BundleID, feeds []*domain.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]struct{}, len(feeds))
	var dups []string
	for _, f := range feeds {
		_, inBatch := batch[f.ID]
		_, loaded := r.feeds[f.ID]
		if inBatch || loaded {
			dups = append(dups, f.ID)
		}
		batch[f.ID] = struct{}{}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return fmt.Errorf("%w: %v", domain.ErrDuplicateFeed, dups)
	}
	for _, f := range feeds {
		r.feeds[f.ID] = entry{owner: owner, feed: f}
	}
	return nil
}

// RemoveBundle evicts every feed registered by owner. Feeds of other
// bundles are untouched even when they share an id with a feed owner once
// tried to register.
func (r *Feeds) RemoveBundle(owner domain.BundleID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, e := range r.feeds {
		if e.owner == owner {
			delete(r.feeds, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func (r *Feeds) Contains(feedID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.feeds[feedID]
	return ok
}

func (r *Feeds) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
