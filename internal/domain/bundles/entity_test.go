package bundles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusProcessingGTFS, StatusProcessingOSM, true},
		{StatusProcessingGTFS, StatusDone, true},
		{StatusProcessingGTFS, StatusError, true},
		{StatusProcessingOSM, StatusDone, true},
		{StatusProcessingOSM, StatusProcessingGTFS, false},
		{StatusDone, StatusError, false},
		{StatusDone, StatusProcessingGTFS, false},
		{StatusError, StatusDone, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestNewFeedSummary(t *testing.T) {
	fs := NewFeedSummary("abc", &Feed{ID: "metro", FileName: "metro.zip", Checksum: "ff"})
	assert.Equal(t, FeedSummary{
		FeedID:             "metro",
		FileName:           "metro.zip",
		Checksum:           "ff",
		BundleScopedFeedID: "metro_abc",
	}, fs)
}

func TestCloneCopiesFeeds(t *testing.T) {
	b := &Bundle{ID: "x", Feeds: []FeedSummary{{FeedID: "a"}}}
	c := b.Clone()
	c.Feeds[0].FeedID = "b"
	assert.Equal(t, "a", b.Feeds[0].FeedID)
	assert.Equal(t, "x.zip", c.ArchiveKey())
}
