package mysql

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

// feeds column selalu JSON array, never NULL
func encodeFeeds(feeds []bundles.FeedSummary) ([]byte, error) {
	if feeds == nil {
		feeds = []bundles.FeedSummary{}
	}
	return json.Marshal(feeds)
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

// jsonOrEmpty keeps JSON columns valid when the payload is absent.
func jsonOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
