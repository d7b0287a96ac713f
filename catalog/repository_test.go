package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/storage"
	"github.com/goliatone/go-offline-sync/pkg/testsupport"
	"github.com/goliatone/go-offline-sync/remote"
)

// recordingStore is a map backed cache.Store that records calls.
type recordingStore struct {
	mu      sync.Mutex
	data    map[string]any
	calls   []string
	forgets []string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{data: make(map[string]any)}
}

func (s *recordingStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *recordingStore) Get(_ context.Context, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Get")
	v, ok := s.data[key]
	return v, ok
}

func (s *recordingStore) Put(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Put")
	s.data[key] = value
	return nil
}

func (s *recordingStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Forget")
	s.forgets = append(s.forgets, key)
	delete(s.data, key)
	return nil
}

func (s *recordingStore) ForgetMatching(context.Context, string) (int, error) { return 0, nil }

func (s *recordingStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any)
	return nil
}

func (s *recordingStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func newTestRepository(t *testing.T) (*Repository, *recordingStore, *bun.DB) {
	t.Helper()
	store := newRecordingStore()
	var repo *Repository
	db := testsupport.NewTestDB(t, func(db *bun.DB) storage.Schema {
		repo = NewRepository(db, store)
		return repo
	})
	return repo, store, db
}

func fixtureItems() []*MediaItem {
	return []*MediaItem{
		{TmdbID: 550, MediaType: "movie", Title: "Fight Club", Popularity: 61.4},
		{TmdbID: 603, MediaType: "movie", Title: "The Matrix", Popularity: 85.2},
		{TmdbID: 1399, MediaType: "tv", Title: "Game of Thrones", Popularity: 120.9},
	}
}

func TestRepository_GetIsCached(t *testing.T) {
	ctx := context.Background()
	repo, _, db := newTestRepository(t)

	if _, err := repo.Upsert(ctx, fixtureItems()...); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	item, err := repo.Get(ctx, "movie", 550)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Title != "Fight Club" {
		t.Errorf("Get() title = %q, want Fight Club", item.Title)
	}

	// a row removed behind the repository's back is still served from cache
	if _, err := db.NewDelete().Model((*MediaItem)(nil)).Where("tmdb_id = ?", 550).Exec(ctx); err != nil {
		t.Fatalf("raw delete error = %v", err)
	}
	item, err = repo.Get(ctx, "movie", 550)
	if err != nil {
		t.Fatalf("cached Get() error = %v", err)
	}
	if item.TmdbID != 550 {
		t.Errorf("cached Get() id = %d, want 550", item.TmdbID)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newTestRepository(t)

	_, err := repo.Get(ctx, "tv", 42)
	if !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Fatalf("Get() error = %v, want NOT_FOUND", err)
	}
	if store.size() != 0 {
		t.Errorf("missing item was cached")
	}
}

func TestRepository_ListOrdersByPopularity(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepository(t)

	if _, err := repo.Upsert(ctx, fixtureItems()...); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	items, total, err := repo.List(ctx, "movie", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("List() = %d items, total %d; want 2, 2", len(items), total)
	}
	if items[0].TmdbID != 603 {
		t.Errorf("List()[0] = %d, want 603", items[0].TmdbID)
	}

	all, err := repo.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if all != 3 {
		t.Errorf("Count() = %d, want 3", all)
	}
}

func TestRepository_UpsertInvalidatesReads(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newTestRepository(t)

	if _, err := repo.Upsert(ctx, fixtureItems()[:1]...); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, _, err := repo.List(ctx, "movie", 0); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if _, err := repo.Count(ctx, "movie"); err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if _, err := repo.Get(ctx, "movie", 550); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if store.size() != 3 {
		t.Fatalf("cached reads = %d, want 3", store.size())
	}

	updated := &MediaItem{TmdbID: 550, MediaType: "movie", Title: "Fight Club (1999)", Popularity: 70}
	if _, err := repo.Upsert(ctx, updated, fixtureItems()[1]); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if store.size() != 0 {
		t.Errorf("cached reads after upsert = %d, want 0", store.size())
	}

	item, err := repo.Get(ctx, "movie", 550)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Title != "Fight Club (1999)" {
		t.Errorf("Get() title = %q, want refreshed title", item.Title)
	}

	n, err := repo.Count(ctx, "movie")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2 (upsert must not duplicate)", n)
	}
}

func TestRepository_GetInvalidationIsExact(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newTestRepository(t)

	items := []*MediaItem{
		{TmdbID: 5, MediaType: "movie", Title: "Four Rooms"},
		{TmdbID: 55, MediaType: "movie", Title: "Amores perros"},
	}
	if _, err := repo.Upsert(ctx, items...); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	for _, item := range items {
		if _, err := repo.Get(ctx, "movie", item.TmdbID); err != nil {
			t.Fatalf("Get(%d) error = %v", item.TmdbID, err)
		}
	}

	if err := repo.Delete(ctx, "movie", 5); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(store.forgets) != 1 {
		t.Fatalf("forgets = %v, want only the deleted item", store.forgets)
	}
	if _, err := repo.Get(ctx, "movie", 55); err != nil {
		t.Errorf("Get(55) error = %v", err)
	}
	if _, err := repo.Get(ctx, "movie", 5); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Errorf("Get(5) error = %v, want NOT_FOUND", err)
	}
}

func TestItemsFromEnvelope(t *testing.T) {
	page := remote.Decode([]byte(`{"page":1,"results":[
		{"id":550,"media_type":"movie","title":"Fight Club","popularity":61.4,"release_date":"1999-10-15"},
		{"id":1399,"media_type":"tv","name":"Game of Thrones","first_air_date":"2011-04-17"},
		{"id":287,"media_type":"person","name":"Brad Pitt"},
		{"title":"no id"},
		"garbage"
	]}`))

	items := ItemsFromEnvelope(page, "")
	if len(items) != 2 {
		t.Fatalf("ItemsFromEnvelope() = %d items, want 2", len(items))
	}
	if items[1].Title != "Game of Thrones" || items[1].ReleaseDate != "2011-04-17" {
		t.Errorf("tv item = %+v", items[1])
	}
	if items[0].Payload == "" {
		t.Errorf("payload not kept")
	}

	detail := remote.Decode([]byte(`{"id":603,"title":"The Matrix"}`))
	items = ItemsFromEnvelope(detail, "movie")
	if len(items) != 1 || items[0].MediaType != "movie" {
		t.Errorf("detail items = %+v", items)
	}

	if got := ItemsFromEnvelope(remote.Empty(), "movie"); len(got) != 0 {
		t.Errorf("empty envelope gave %d items", len(got))
	}
}
