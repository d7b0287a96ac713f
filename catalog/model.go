package catalog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-offline-sync/remote"
)

// MediaItem is a locally stored movie or show.
type MediaItem struct {
	bun.BaseModel `bun:"table:tmdb_items"`

	ID          uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	TmdbID      int64     `bun:"tmdb_id,notnull" json:"tmdb_id"`
	MediaType   string    `bun:"media_type,notnull" json:"media_type"`
	Title       string    `bun:"title,notnull" json:"title"`
	Overview    string    `bun:"overview" json:"overview,omitempty"`
	PosterPath  string    `bun:"poster_path" json:"poster_path,omitempty"`
	ReleaseDate string    `bun:"release_date" json:"release_date,omitempty"`
	Popularity  float64   `bun:"popularity" json:"popularity"`
	Payload     string    `bun:"payload" json:"-"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// ItemsFromEnvelope converts a metadata API answer (a list, a "results"
// page or a single object) into items. Entries without an id or a title are
// skipped. media is used when an entry carries no media_type.
func ItemsFromEnvelope(env remote.Envelope, media string) []*MediaItem {
	var raw []any
	switch env.Shape() {
	case remote.ShapeList:
		raw = env.Items()
	case remote.ShapeObject:
		if items := env.Items(); items != nil {
			raw = items
		} else if obj, ok := env.AsObject(); ok {
			raw = []any{obj}
		}
	case remote.ShapeEmpty:
		return nil
	}

	out := make([]*MediaItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := itemFromMap(m, media)
		if item == nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

func itemFromMap(m map[string]any, media string) *MediaItem {
	id, ok := m["id"].(float64)
	if !ok || id <= 0 {
		return nil
	}
	if mt, ok := m["media_type"].(string); ok && mt != "" {
		media = mt
	}
	if media != "movie" && media != "tv" {
		return nil
	}

	title := firstString(m, "title", "name")
	if title == "" {
		return nil
	}

	payload, _ := json.Marshal(m)
	popularity, _ := m["popularity"].(float64)
	return &MediaItem{
		TmdbID:      int64(id),
		MediaType:   media,
		Title:       title,
		Overview:    firstString(m, "overview"),
		PosterPath:  firstString(m, "poster_path"),
		ReleaseDate: firstString(m, "release_date", "first_air_date"),
		Popularity:  popularity,
		Payload:     string(payload),
	}
}

func firstString(m map[string]any, fields ...string) string {
	for _, f := range fields {
		if s, ok := m[f].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
