// Package filter selects which discovered instances are tracked and which
// fetched statuses are stored.
//
// Each filter also derives the query parameters that ask the server to do the
// same selection, so server-side and client-side filtering agree.
package filter

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"mastodb/pkg/config"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
)

// Filter keeps the subset of items that match, in their original order, and
// reports the query parameters matching the same configuration.
type Filter[T any] interface {
	Apply(items []T) []T
	Params() url.Values
}

func apply[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func languageSet(tags []string) map[string]struct{} {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[strings.TrimSpace(t)] = struct{}{}
	}
	return set
}

// PostFilter selects statuses from a public timeline.
type PostFilter struct {
	hasMedia  *bool
	hasImage  *bool
	hasVideo  *bool
	substring *string
	languages map[string]struct{}
	pageSize  int
}

var _ Filter[models.Item] = (*PostFilter)(nil)

// NewPostFilter builds a PostFilter. Requiring an image or a video implies
// requiring media.
func NewPostFilter(cfg config.PostFilterConfig, pageSize int) *PostFilter {
	f := &PostFilter{
		hasMedia:  cfg.HasMedia,
		hasImage:  cfg.HasImage,
		hasVideo:  cfg.HasVideo,
		substring: cfg.Substring,
		languages: languageSet(cfg.Languages),
		pageSize:  pageSize,
	}
	if isTrue(cfg.HasImage) || isTrue(cfg.HasVideo) {
		media := true
		f.hasMedia = &media
	}
	return f
}

func isTrue(b *bool) bool { return b != nil && *b }

// Keep reports whether a single status passes the filter. Statuses without a
// language are always dropped.
func (f *PostFilter) Keep(item models.Item) bool {
	lang, ok := item.String("language")
	if !ok || lang == "" {
		return false
	}
	if f.languages != nil {
		if _, ok := f.languages[lang]; !ok {
			return false
		}
	}
	if f.substring != nil {
		content, _ := item.String("content")
		if !strings.Contains(content, *f.substring) {
			return false
		}
	}

	types := item.MediaTypes()
	if f.hasMedia != nil && (len(types) > 0) != *f.hasMedia {
		return false
	}
	if f.hasImage != nil && slices.Contains(types, "image") != *f.hasImage {
		return false
	}
	if f.hasVideo != nil && slices.Contains(types, "video") != *f.hasVideo {
		return false
	}
	return true
}

// Apply returns the statuses that pass the filter.
func (f *PostFilter) Apply(items []models.Item) []models.Item {
	return apply(items, f.Keep)
}

// Params pins the timeline to local statuses and the configured page size,
// and asks for media-only statuses when media is required.
func (f *PostFilter) Params() url.Values {
	v := url.Values{}
	v.Set("local", "true")
	v.Set("limit", strconv.Itoa(f.pageSize))
	if f.hasMedia != nil {
		v.Set("only_media", strconv.FormatBool(*f.hasMedia))
	}
	return v
}

// InstanceFilter selects discovery candidates.
type InstanceFilter struct {
	cfg       config.InstanceFilterConfig
	languages map[string]struct{}
	logger    logger.Logger
}

var _ Filter[models.Candidate] = (*InstanceFilter)(nil)

// NewInstanceFilter builds an InstanceFilter.
func NewInstanceFilter(cfg config.InstanceFilterConfig, log logger.Logger) *InstanceFilter {
	return &InstanceFilter{cfg: cfg, languages: languageSet(cfg.Languages), logger: log}
}

// Keep reports whether a single candidate passes the filter.
func (f *InstanceFilter) Keep(c models.Candidate) bool {
	if f.languages != nil && !f.intersects(c.Languages) {
		return false
	}
	if f.cfg.MinObsScore != nil && (c.ObsScore == nil || *c.ObsScore < *f.cfg.MinObsScore) {
		return false
	}
	return c.Statuses >= int64(f.cfg.AmountStatuses)
}

func (f *InstanceFilter) intersects(langs []string) bool {
	for _, l := range langs {
		if _, ok := f.languages[l]; ok {
			return true
		}
	}
	return false
}

// Apply returns the candidates that pass the filter. An empty result is
// logged as a warning for the operator.
func (f *InstanceFilter) Apply(items []models.Candidate) []models.Candidate {
	out := apply(items, f.Keep)
	if len(out) == 0 {
		f.logger.WarnWithFields("No instances passed the instance filter", map[string]interface{}{
			"candidates": len(items),
		})
	}
	return out
}

// Params returns the discovery query. Dead instances are always excluded.
func (f *InstanceFilter) Params() url.Values {
	v := url.Values{}
	v.Set("include_dead", "false")
	v.Set("count", strconv.Itoa(f.cfg.AmountOfInstances))
	v.Set("min_users", strconv.Itoa(f.cfg.MinUsers))
	v.Set("min_active_users", strconv.Itoa(f.cfg.MinActiveUsers))
	v.Set("include_closed", strconv.FormatBool(f.cfg.IncludeClosed))
	return v
}
