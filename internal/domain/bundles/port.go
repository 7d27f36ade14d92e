package bundles

import "context"

// Repository port (interface untuk persistence). Every read is scoped to an
// access group; records of other groups behave as missing.
type Repository interface {
	Save(ctx context.Context, b *Bundle) error
	// Finish writes b only while the stored record is still in status from.
	// It returns ErrNotFound when the record is gone or already left from.
	Finish(ctx context.Context, b *Bundle, from Status) error
	Get(ctx context.Context, group string, id BundleID) (*Bundle, error)
	List(ctx context.Context, group, projectID string) ([]*Bundle, error)
	// ListDone returns every DONE bundle of every group.
	ListDone(ctx context.Context) ([]*Bundle, error)
	Delete(ctx context.Context, group string, id BundleID) error
}

// FeedParser turns a local schedule archive into a Feed.
type FeedParser interface {
	Parse(ctx context.Context, path string) (*Feed, error)
}

// FeedRegistry is the lookup of feeds that are loaded and queryable. Every
// feed is owned by the bundle that registered it.
// RegisterAll must be atomic: either every feed is registered or, when any
// id is already present, none is and ErrDuplicateFeed is returned.
type FeedRegistry interface {
	RegisterAll(owner BundleID, feeds []*Feed) error
	// RemoveBundle evicts the feeds owned by owner and returns their ids.
	RemoveBundle(owner BundleID) []string
	Contains(feedID string) bool
}

// Submitter schedules background work without blocking the caller.
type Submitter interface {
	Submit(task func()) error
}
