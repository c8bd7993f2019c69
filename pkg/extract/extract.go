// Package extract projects raw timeline statuses into stored posts.
package extract

import (
	"errors"
	"fmt"

	"mastodb/pkg/config"
	"mastodb/pkg/models"
)

// ErrNonStringID means the server returned a status whose id is not a JSON
// string, which no conforming Mastodon server does.
var ErrNonStringID = errors.New("status id is not a string")

// MissingFieldError reports a configured field absent from a status.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("status has no %q field", e.Field)
}

// Stored field names.
const (
	FieldURL             = "url"
	FieldFavouritesCount = "favourites_count"
	FieldSensitive       = "sensitive"
	FieldDate            = "date"
	FieldLanguage        = "language"
	FieldUID             = "uid"
	FieldTags            = "tags"
	FieldMedia           = "media"
	FieldContent         = "content"
)

type step struct {
	name string
	run  func(models.Item) (any, error)
}

// Extractor applies the enabled projection steps in a fixed order.
type Extractor struct {
	steps []step
}

// New compiles the enabled attributes into extraction steps.
func New(cfg config.AttributesConfig) *Extractor {
	var steps []step
	add := func(enabled bool, name string, run func(models.Item) (any, error)) {
		if enabled {
			steps = append(steps, step{name: name, run: run})
		}
	}

	add(cfg.URL, FieldURL, rawField("url"))
	add(cfg.FavouritesCount, FieldFavouritesCount, rawField("favourites_count"))
	add(cfg.Sensitive, FieldSensitive, rawField("sensitive"))
	add(cfg.Date, FieldDate, rawField("created_at"))
	add(cfg.Language, FieldLanguage, rawField("language"))
	add(cfg.UID, FieldUID, accountID)
	add(cfg.Tags, FieldTags, tagNames)
	add(cfg.Media, FieldMedia, mediaURLs)
	if cfg.HTMLParsedContent {
		add(cfg.Content, FieldContent, reducedContent)
	} else {
		add(cfg.Content, FieldContent, rawField("content"))
	}

	return &Extractor{steps: steps}
}

// Fields lists the stored field names in step order.
func (e *Extractor) Fields() []string {
	names := make([]string, len(e.steps))
	for i, s := range e.steps {
		names[i] = s.name
	}
	return names
}

// Project builds the stored post for item. It fails with ErrNonStringID or a
// *MissingFieldError; callers skip such items.
func (e *Extractor) Project(item models.Item) (models.Post, error) {
	id, ok := item.String("id")
	if !ok {
		return models.Post{}, ErrNonStringID
	}

	fields := make(map[string]any, len(e.steps))
	for _, s := range e.steps {
		v, err := s.run(item)
		if err != nil {
			return models.Post{}, err
		}
		fields[s.name] = v
	}
	return models.Post{ID: id, Fields: fields}, nil
}

func rawField(key string) func(models.Item) (any, error) {
	return func(item models.Item) (any, error) {
		v, ok := item.Field(key)
		if !ok {
			return nil, &MissingFieldError{Field: key}
		}
		return v, nil
	}
}

func reducedContent(item models.Item) (any, error) {
	v, ok := item.Field("content")
	if !ok {
		return nil, &MissingFieldError{Field: "content"}
	}
	if s, ok := v.(string); ok {
		return ReduceHTML(s), nil
	}
	return v, nil
}

func accountID(item models.Item) (any, error) {
	account, ok := item["account"].(map[string]any)
	if !ok {
		return nil, &MissingFieldError{Field: "account"}
	}
	id, ok := account["id"]
	if !ok {
		return nil, &MissingFieldError{Field: "account.id"}
	}
	return id, nil
}

func tagNames(item models.Item) (any, error) {
	raw, ok := item.Field("tags")
	if !ok {
		return nil, &MissingFieldError{Field: "tags"}
	}
	list, _ := raw.([]any)
	names := make([]string, 0, len(list))
	for _, t := range list {
		tag, _ := t.(map[string]any)
		name, ok := tag["name"].(string)
		if !ok {
			return nil, &MissingFieldError{Field: "tags.name"}
		}
		names = append(names, name)
	}
	return names, nil
}

func mediaURLs(item models.Item) (any, error) {
	raw, ok := item.Field("media_attachments")
	if !ok {
		return nil, &MissingFieldError{Field: "media_attachments"}
	}
	list, _ := raw.([]any)
	media := make([]map[string]any, 0, len(list))
	for _, a := range list {
		att, _ := a.(map[string]any)
		u, ok := att["url"]
		if !ok {
			return nil, &MissingFieldError{Field: "media_attachments.url"}
		}
		media = append(media, map[string]any{"url": u})
	}
	return media, nil
}
