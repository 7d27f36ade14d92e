package bundles

import "time"

// BundleID tipe untuk Bundle
type BundleID string

// Status enum
type Status string

const (
	StatusProcessingGTFS Status = "PROCESSING_GTFS"
	StatusProcessingOSM  Status = "PROCESSING_OSM"
	StatusDone           Status = "DONE"
	StatusError          Status = "ERROR"
)

func (s Status) rank() int {
	switch s {
	case StatusProcessingGTFS:
		return 1
	case StatusProcessingOSM:
		return 2
	case StatusDone:
		return 3
	default:
		return 0
	}
}

// CanTransition reports whether a bundle may move from s to next. Status only
// moves forward, except that any non-terminal status may fall to ERROR.
func (s Status) CanTransition(next Status) bool {
	if s == StatusError || s == StatusDone {
		return false
	}
	if next == StatusError {
		return true
	}
	return next.rank() > s.rank()
}

// FeedSummary describes one schedule file inside a bundle.
type FeedSummary struct {
	FeedID             string `json:"feedId"`
	FileName           string `json:"fileName"`
	Checksum           string `json:"checksum"`
	BundleScopedFeedID string `json:"bundleScopedFeedId"`
}

// NewFeedSummary builds the summary of feed as stored inside bundle id.
func NewFeedSummary(bundleID BundleID, feed *Feed) FeedSummary {
	return FeedSummary{
		FeedID:             feed.ID,
		FileName:           feed.FileName,
		Checksum:           feed.Checksum,
		BundleScopedFeedID: feed.ID + "_" + string(bundleID),
	}
}

// Aggregate Root: Bundle
type Bundle struct {
	ID           BundleID      `json:"id"`
	Name         string        `json:"name"`
	ProjectID    string        `json:"projectId"`
	AccessGroup  string        `json:"accessGroup"`
	Status       Status        `json:"status"`
	Feeds        []FeedSummary `json:"feeds"`
	CenterLat    float64       `json:"centerLat"`
	CenterLon    float64       `json:"centerLon"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ArchiveKey is the blob key of the repackaged upload.
func (b *Bundle) ArchiveKey() string {
	return ArchiveKey(b.ID)
}

// ArchiveKey is the blob key of the repackaged upload for id.
func ArchiveKey(id BundleID) string {
	return string(id) + ".zip"
}

// Clone returns a deep copy so the async ingestion never shares a slice with
// the record handed back to the caller.
func (b *Bundle) Clone() *Bundle {
	c := *b
	if b.Feeds != nil {
		c.Feeds = make([]FeedSummary, len(b.Feeds))
		copy(c.Feeds, b.Feeds)
	}
	return &c
}

// Stop is one stop position in a parsed feed.
type Stop struct {
	ID  string
	Lat float64
	Lon float64
}

// Feed is a parsed schedule file.
type Feed struct {
	ID       string
	FileName string
	Checksum string
	Stops    []Stop
}
