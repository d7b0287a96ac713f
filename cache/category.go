package cache

import "time"

// Category selects the TTL policy of a cache entry.
type Category string

const (
	CategoryMovie       Category = "tmdb_movie"
	CategoryShow        Category = "tmdb_show"
	CategoryTrending    Category = "trending"
	CategorySearch      Category = "search"
	CategoryUserData    Category = "user_data"
	CategoryWishlist    Category = "wishlist"
	CategoryAPIResponse Category = "api_response"
)

// DefaultTTL applies to unknown categories.
const DefaultTTL = 30 * time.Minute

var categoryTTLs = map[Category]time.Duration{
	CategoryMovie:       7 * 24 * time.Hour,
	CategoryShow:        7 * 24 * time.Hour,
	CategoryTrending:    3 * time.Hour,
	CategorySearch:      time.Hour,
	CategoryUserData:    5 * time.Minute,
	CategoryWishlist:    10 * time.Minute,
	CategoryAPIResponse: DefaultTTL,
}

// TTL returns the lifetime of entries in the category.
func (c Category) TTL() time.Duration {
	if ttl, ok := categoryTTLs[c]; ok {
		return ttl
	}
	return DefaultTTL
}

// Known reports whether c has its own TTL entry.
func (c Category) Known() bool {
	_, ok := categoryTTLs[c]
	return ok
}

func (c Category) String() string { return string(c) }
