package backup

import (
	"time"

	"github.com/uptrace/bun"
)

// Record is the last good payload for a cache key.
type Record struct {
	bun.BaseModel `bun:"table:offline_cache"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	CacheKey  string    `bun:"cache_key,notnull,unique" json:"cache_key"`
	Category  string    `bun:"category,notnull" json:"category"`
	Data      string    `bun:"data,notnull" json:"data"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// AccessStat counts fast cache hits for a key.
type AccessStat struct {
	bun.BaseModel `bun:"table:cache_analytics"`

	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	CacheKey       string    `bun:"cache_key,notnull,unique" json:"cache_key"`
	AccessCount    int64     `bun:"access_count,notnull,default:0" json:"access_count"`
	LastAccessedAt time.Time `bun:"last_accessed_at,notnull" json:"last_accessed_at"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// EvictionReport describes one EvictLeastValuable pass.
type EvictionReport struct {
	BudgetBytes int64    `json:"budget_bytes"`
	BeforeBytes int64    `json:"before_bytes"`
	AfterBytes  int64    `json:"after_bytes"`
	Keys        []string `json:"keys"`
}

// Evicted reports whether anything was removed.
func (r EvictionReport) Evicted() bool { return len(r.Keys) > 0 }

type candidate struct {
	CacheKey string `bun:"cache_key"`
	Size     int64  `bun:"size"`
}
