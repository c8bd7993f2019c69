package ingest

import (
	"context"
	"net/url"

	"mastodb/pkg/mastodon"
	"mastodb/pkg/models"
)

// TimelineFetcher fetches raw public timeline pages
type TimelineFetcher interface {
	PublicTimeline(ctx context.Context, domain string, params url.Values) (*mastodon.Page, error)
}

// InstanceProber performs the single-shot requests used when bootstrapping
type InstanceProber interface {
	InstanceInfo(ctx context.Context, domain string) (*mastodon.InstanceInfo, error)
	LatestStatus(ctx context.Context, domain string) (models.Item, error)
}

// Client defines the Mastodon API operations the engine needs
type Client interface {
	TimelineFetcher
	InstanceProber
}

// CandidateSource lists instances proposed for tracking
type CandidateSource interface {
	List(ctx context.Context, params url.Values) ([]models.Candidate, error)
}

// Progress receives one tick per bootstrapped candidate
type Progress interface {
	Add(n int) error
}

var _ Client = (*mastodon.Client)(nil)
