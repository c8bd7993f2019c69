package models

import "time"

// Item is one raw status as returned by a Mastodon timeline endpoint. It is
// kept as a generic JSON object so that missing fields can be told apart from
// zero values.
type Item map[string]any

// Field returns the raw value stored under key and whether the key exists.
func (it Item) Field(key string) (any, bool) {
	v, ok := it[key]
	return v, ok
}

// String returns the value under key if it is a JSON string.
func (it Item) String(key string) (string, bool) {
	s, ok := it[key].(string)
	return s, ok
}

// MediaTypes lists the "type" of every media attachment on the item.
func (it Item) MediaTypes() []string {
	attachments, _ := it["media_attachments"].([]any)
	types := make([]string, 0, len(attachments))
	for _, a := range attachments {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := m["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types
}

// Post is the stored projection of an Item.
type Post struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Instance is the tracked-instance record.
type Instance struct {
	Domain    string   `json:"domain"`
	Languages []string `json:"languages"`
	CaughtUp  bool     `json:"caught_up"`
	// FetchTime is the accumulated fetch time in seconds.
	FetchTime float64 `json:"fetch_time"`
}

// InstanceState is what a pagination loop needs to resume an instance.
type InstanceState struct {
	Domain   string
	CaughtUp bool
	NewestID string
	OldestID string
}

// FetchStat is the raw telemetry kept per instance.
type FetchStat struct {
	Domain    string
	FetchTime time.Duration
	PostCount int
}

// Candidate is an instance proposed by discovery.
type Candidate struct {
	Name      string
	Languages []string
	// ObsScore is nil when the directory has not scored the instance.
	ObsScore *float64
	Statuses int64
}
