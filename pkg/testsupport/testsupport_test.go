package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-offline-sync/internal/storage"
)

func TestLoadFixtureJSON(t *testing.T) {
	var body struct {
		Data []struct {
			UUID string `json:"uuid"`
		} `json:"data"`
	}
	LoadFixtureJSON(t, FixturePath("wishlists.json"), &body)

	if len(body.Data) != 2 || body.Data[0].UUID != "w1" {
		t.Fatalf("unexpected fixture content: %+v", body)
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.txt")
	if err := os.WriteFile(path, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := string(LoadFixture(t, path)); got != "raw" {
		t.Errorf("LoadFixture() = %q", got)
	}
}

func TestMustJSON(t *testing.T) {
	if got := string(MustJSON(t, map[string]int{"a": 1})); got != `{"a":1}` {
		t.Errorf("MustJSON() = %s", got)
	}
}

func TestClock(t *testing.T) {
	c := NewClock(time.Time{})
	start := c.Now()
	c.Advance(time.Minute)
	if got := c.Now().Sub(start); got != time.Minute {
		t.Errorf("Advance moved clock by %v", got)
	}
	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Set() = %v, want %v", c.Now(), later)
	}
}

type kv struct {
	bun.BaseModel `bun:"table:kv"`
	K             string `bun:"k,pk"`
	V             string `bun:"v"`
}

type kvSchema struct{ db *bun.DB }

func (s kvSchema) CreateSchema(ctx context.Context) error {
	return storage.CreateTable(ctx, s.db, (*kv)(nil))
}

func TestNewTestDB(t *testing.T) {
	db := NewTestDB(t, func(db *bun.DB) storage.Schema { return kvSchema{db} })
	ctx := context.Background()

	if _, err := db.NewInsert().Model(&kv{K: "a", V: "1"}).Exec(ctx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, err := db.NewSelect().Model((*kv)(nil)).Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
}
