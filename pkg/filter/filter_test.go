package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"mastodb/pkg/config"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func status(id, lang, content string, media ...string) models.Item {
	attachments := make([]any, 0, len(media))
	for _, m := range media {
		attachments = append(attachments, map[string]any{"type": m, "url": "https://files/" + id})
	}
	it := models.Item{
		"id":                id,
		"content":           content,
		"media_attachments": attachments,
	}
	if lang != "" {
		it["language"] = lang
	} else {
		it["language"] = nil
	}
	return it
}

func ids(items []models.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, _ := it.String("id")
		out = append(out, s)
	}
	return out
}

func TestPostFilterApply(t *testing.T) {
	items := []models.Item{
		status("1", "en", "<p>hello fediverse</p>", "image"),
		status("2", "", "<p>no language</p>"),
		status("3", "de", "<p>hallo</p>", "video"),
		status("4", "en", "<p>plain text</p>"),
		status("5", "en", "<p>fediverse clip</p>", "video", "image"),
	}
	missingLang := models.Item{"id": "6", "content": "x"}
	items = append(items, missingLang)

	tests := []struct {
		name string
		cfg  config.PostFilterConfig
		want []string
	}{
		{"no criteria drops unknown language", config.PostFilterConfig{}, []string{"1", "3", "4", "5"}},
		{"language allow-list", config.PostFilterConfig{Languages: []string{"de"}}, []string{"3"}},
		{"substring", config.PostFilterConfig{Substring: ptr("fediverse")}, []string{"1", "5"}},
		{"has media", config.PostFilterConfig{HasMedia: ptr(true)}, []string{"1", "3", "5"}},
		{"no media", config.PostFilterConfig{HasMedia: ptr(false)}, []string{"4"}},
		{"has image", config.PostFilterConfig{HasImage: ptr(true)}, []string{"1", "5"}},
		{"video without image", config.PostFilterConfig{HasVideo: ptr(true), HasImage: ptr(false)}, []string{"3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPostFilter(tt.cfg, 40)
			assert.Equal(t, tt.want, ids(f.Apply(items)))
		})
	}
}

func TestPostFilterIdempotent(t *testing.T) {
	items := []models.Item{
		status("1", "en", "a", "image"),
		status("2", "fr", "b"),
		status("3", "en", "c", "gifv"),
		status("4", "", "d", "image"),
	}
	f := NewPostFilter(config.PostFilterConfig{HasMedia: ptr(true), Languages: []string{"en"}}, 40)

	once := f.Apply(items)
	twice := f.Apply(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, []string{"1", "3"}, ids(once))
}

func TestPostFilterParams(t *testing.T) {
	t.Run("base parameters", func(t *testing.T) {
		p := NewPostFilter(config.PostFilterConfig{}, 40).Params()
		assert.Equal(t, "true", p.Get("local"))
		assert.Equal(t, "40", p.Get("limit"))
		assert.False(t, p.Has("only_media"))
	})

	t.Run("image implies media", func(t *testing.T) {
		p := NewPostFilter(config.PostFilterConfig{HasImage: ptr(true)}, 20).Params()
		assert.Equal(t, "true", p.Get("only_media"))
		assert.Equal(t, "20", p.Get("limit"))
	})

	t.Run("explicit no media", func(t *testing.T) {
		p := NewPostFilter(config.PostFilterConfig{HasMedia: ptr(false)}, 40).Params()
		assert.Equal(t, "false", p.Get("only_media"))
	})

	t.Run("params are fresh per call", func(t *testing.T) {
		f := NewPostFilter(config.PostFilterConfig{}, 40)
		p := f.Params()
		p.Set("max_id", "100")
		assert.False(t, f.Params().Has("max_id"))
	})
}

func TestInstanceFilterApply(t *testing.T) {
	candidates := []models.Candidate{
		{Name: "a.social", Languages: []string{"en"}, ObsScore: ptr(90.0), Statuses: 5000},
		{Name: "b.social", Languages: []string{"de", "en"}, ObsScore: ptr(50.0), Statuses: 5000},
		{Name: "c.social", Languages: nil, ObsScore: nil, Statuses: 5000},
		{Name: "d.social", Languages: []string{"ja"}, ObsScore: ptr(99.0), Statuses: 3},
	}

	tests := []struct {
		name string
		cfg  config.InstanceFilterConfig
		want []string
	}{
		{"activity only", config.InstanceFilterConfig{AmountStatuses: 10}, []string{"a.social", "b.social", "c.social"}},
		{"languages", config.InstanceFilterConfig{Languages: []string{"de"}}, []string{"b.social"}},
		{"obs score", config.InstanceFilterConfig{MinObsScore: ptr(60.0)}, []string{"a.social", "d.social"}},
		{"combined", config.InstanceFilterConfig{Languages: []string{"en"}, MinObsScore: ptr(60.0), AmountStatuses: 10}, []string{"a.social"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewInstanceFilter(tt.cfg, logger.NewNopLogger())
			var got []string
			for _, c := range f.Apply(candidates) {
				got = append(got, c.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstanceFilterLogsEmptyResult(t *testing.T) {
	log := logger.NewTestLogger()
	f := NewInstanceFilter(config.InstanceFilterConfig{AmountStatuses: 1_000_000}, log)

	out := f.Apply([]models.Candidate{{Name: "tiny.social", Statuses: 10}})
	assert.Empty(t, out)
	assert.True(t, log.HasMessage("No instances passed the instance filter"))
}

func TestInstanceFilterParams(t *testing.T) {
	cfg := config.DefaultConfig().InstanceFilter
	cfg.IncludeClosed = true
	p := NewInstanceFilter(cfg, logger.NewNopLogger()).Params()

	assert.Equal(t, "false", p.Get("include_dead"))
	assert.Equal(t, "100", p.Get("count"))
	assert.Equal(t, "800", p.Get("min_users"))
	assert.Equal(t, "20", p.Get("min_active_users"))
	assert.Equal(t, "true", p.Get("include_closed"))
}
