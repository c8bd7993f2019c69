package mastodon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mastodb/pkg/models"
)

// InstanceInfo is the subset of GET /api/v1/instance the crawler reads.
type InstanceInfo struct {
	URI       string   `json:"uri"`
	Title     string   `json:"title"`
	Version   string   `json:"version"`
	Languages []string `json:"languages"`
	Stats     struct {
		UserCount   int64 `json:"user_count"`
		StatusCount int64 `json:"status_count"`
		DomainCount int64 `json:"domain_count"`
	} `json:"stats"`
}

// Page is one raw timeline response. The body is left undecoded so that
// the caller can classify the response first.
type Page struct {
	Domain     string
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// DecodeItems parses a timeline body into raw statuses. The body must be a
// JSON array of objects; null in place of the array or of an element is
// rejected.
func DecodeItems(body []byte) ([]models.Item, error) {
	var items []models.Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to decode timeline: %w", err)
	}
	if items == nil {
		return nil, errors.New("failed to decode timeline: body is not an array")
	}
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("failed to decode timeline: item %d is null", i)
		}
	}
	return items, nil
}
