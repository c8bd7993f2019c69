package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mastodb/pkg/config"
	"mastodb/pkg/models"
)

func fullStatus() models.Item {
	return models.Item{
		"id":               "110000000000000001",
		"created_at":       "2024-05-03T21:00:00.000Z",
		"url":              "https://example.social/@alice/110000000000000001",
		"content":          "<p>hello<br>world</p><p>again &amp; again</p>",
		"language":         "en",
		"sensitive":        false,
		"favourites_count": float64(3),
		"account":          map[string]any{"id": "42", "username": "alice"},
		"tags":             []any{map[string]any{"name": "go"}, map[string]any{"name": "fediverse"}},
		"media_attachments": []any{
			map[string]any{"type": "image", "url": "https://files.example/1.png"},
		},
	}
}

func allAttributes() config.AttributesConfig {
	return config.AttributesConfig{
		Date: true, Content: true, HTMLParsedContent: true, Language: true, URL: true,
		UID: true, Sensitive: true, FavouritesCount: true, Tags: true, Media: true,
	}
}

func TestReduceHTML(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain text unchanged", "just some text", "just some text"},
		{"paragraphs", "<p>a</p><p>b</p>", "a\nb\n"},
		{"break inside paragraph", "<p>a<br>b</p>", "a\nb\n"},
		{"self-closing break", "<p>a<br/>b</p>", "a\nb\n"},
		{"other markup dropped", `<p>see <a href="https://x"><span>this</span></a></p>`, "see this\n"},
		{"entities decoded", "<p>fish &amp; chips</p>", "fish & chips\n"},
		{"empty", "", ""},
		{"line endings normalized", "line1\r\nline2\rline3", "line1\nline2\nline3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReduceHTML(tt.in))
		})
	}
}

func TestProjectAllFields(t *testing.T) {
	post, err := New(allAttributes()).Project(fullStatus())
	require.NoError(t, err)

	assert.Equal(t, "110000000000000001", post.ID)
	assert.Equal(t, "hello\nworld\nagain & again\n", post.Fields[FieldContent])
	assert.Equal(t, "42", post.Fields[FieldUID])
	assert.Equal(t, []string{"go", "fediverse"}, post.Fields[FieldTags])
	assert.Equal(t, []map[string]any{{"url": "https://files.example/1.png"}}, post.Fields[FieldMedia])
	assert.Equal(t, "2024-05-03T21:00:00.000Z", post.Fields[FieldDate])
	assert.Equal(t, float64(3), post.Fields[FieldFavouritesCount])
	assert.Equal(t, false, post.Fields[FieldSensitive])
	assert.Equal(t, "en", post.Fields[FieldLanguage])
	assert.Len(t, post.Fields, 9)
}

func TestProjectDefaultsKeepRawContent(t *testing.T) {
	ex := New(config.DefaultConfig().Attributes)
	assert.Equal(t, []string{FieldURL, FieldContent}, ex.Fields())

	post, err := ex.Project(fullStatus())
	require.NoError(t, err)
	assert.Equal(t, "<p>hello<br>world</p><p>again &amp; again</p>", post.Fields[FieldContent])
}

func TestProjectIgnoresUnconfiguredMissingFields(t *testing.T) {
	item := models.Item{"id": "7", "url": "https://a.social/7", "content": "x"}
	post, err := New(config.AttributesConfig{URL: true, Content: true}).Project(item)
	require.NoError(t, err)
	assert.Equal(t, "7", post.ID)
}

func TestProjectFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(models.Item)
		field  string
	}{
		{"missing url", func(it models.Item) { delete(it, "url") }, "url"},
		{"missing account", func(it models.Item) { delete(it, "account") }, "account"},
		{"account without id", func(it models.Item) { it["account"] = map[string]any{} }, "account.id"},
		{"missing tags", func(it models.Item) { delete(it, "tags") }, "tags"},
		{"media without url", func(it models.Item) {
			it["media_attachments"] = []any{map[string]any{"type": "image"}}
		}, "media_attachments.url"},
		{"missing created_at", func(it models.Item) { delete(it, "created_at") }, "created_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := fullStatus()
			tt.mutate(item)

			post, err := New(allAttributes()).Project(item)
			var missing *MissingFieldError
			require.True(t, errors.As(err, &missing), "got %v", err)
			assert.Equal(t, tt.field, missing.Field)
			assert.Empty(t, post.ID)
			assert.Nil(t, post.Fields)
		})
	}
}

func TestProjectNonStringID(t *testing.T) {
	for _, id := range []any{float64(110000000000000001), nil} {
		item := fullStatus()
		item["id"] = id
		_, err := New(allAttributes()).Project(item)
		assert.ErrorIs(t, err, ErrNonStringID)
	}

	item := fullStatus()
	delete(item, "id")
	_, err := New(allAttributes()).Project(item)
	assert.ErrorIs(t, err, ErrNonStringID)
}

func TestProjectDistinctIDs(t *testing.T) {
	ex := New(allAttributes())
	a, b := fullStatus(), fullStatus()
	b["id"] = "110000000000000002"

	pa, err := ex.Project(a)
	require.NoError(t, err)
	pb, err := ex.Project(b)
	require.NoError(t, err)
	assert.NotEqual(t, pa.ID, pb.ID)

	again, err := ex.Project(a)
	require.NoError(t, err)
	assert.Equal(t, pa, again)
}
