package postgres

import (
	"encoding/json"
	"strings"

	"github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func encodeFeeds(feeds []bundles.FeedSummary) (string, error) {
	if feeds == nil {
		feeds = []bundles.FeedSummary{}
	}
	raw, err := json.Marshal(feeds)
	return string(raw), err
}

func decodeFeeds(raw []byte) ([]bundles.FeedSummary, error) {
	feeds := []bundles.FeedSummary{}
	if len(raw) == 0 {
		return feeds, nil
	}
	if err := json.Unmarshal(raw, &feeds); err != nil {
		return nil, err
	}
	return feeds, nil
}
