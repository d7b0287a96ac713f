package metadata

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-offline-sync/cache"
)

// Media types understood by the metadata API.
const (
	MediaAll   = "all"
	MediaMovie = "movie"
	MediaTV    = "tv"
)

// Request is one call to the metadata API. Endpoint is relative to the
// connector base URL.
type Request struct {
	Method   string
	Endpoint string
	Query    map[string]any
	Header   http.Header
}

// Category picks the cache category from the endpoint.
func (r Request) Category() cache.Category {
	switch {
	case strings.Contains(r.Endpoint, "/movie/"):
		return cache.CategoryMovie
	case strings.Contains(r.Endpoint, "/tv/"):
		return cache.CategoryShow
	case strings.Contains(r.Endpoint, "/trending/"):
		return cache.CategoryTrending
	case strings.Contains(r.Endpoint, "/search/"):
		return cache.CategorySearch
	}
	return cache.CategoryAPIResponse
}

func (r Request) clone() Request {
	out := Request{Method: r.Method, Endpoint: r.Endpoint, Header: r.Header.Clone()}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Query = make(map[string]any, len(r.Query))
	for k, v := range r.Query {
		out.Query[k] = v
	}
	return out
}

// TrendingRequest lists trending media for a window ("day" or "week").
func TrendingRequest(media, window string, page int) Request {
	if media == "" {
		media = MediaAll
	}
	if window == "" {
		window = "week"
	}
	if page < 1 {
		page = 1
	}
	return Request{
		Method:   http.MethodGet,
		Endpoint: "/trending/" + media + "/" + window,
		Query: map[string]any{
			"include_adult": "false",
			"page":          page,
		},
	}
}

// SearchMultiRequest searches movies, shows and people at once.
func SearchMultiRequest(query string, page int) Request {
	if page < 1 {
		page = 1
	}
	return Request{
		Method:   http.MethodGet,
		Endpoint: "/search/multi",
		Query: map[string]any{
			"query":         query,
			"include_adult": "false",
			"page":          page,
		},
	}
}

// DetailsRequest fetches one movie or show.
func DetailsRequest(media string, id int64) Request {
	if media != MediaTV {
		media = MediaMovie
	}
	return Request{
		Method:   http.MethodGet,
		Endpoint: "/" + media + "/" + strconv.FormatInt(id, 10),
		Query:    map[string]any{},
	}
}

// SimilarRequest lists titles similar to one movie or show.
func SimilarRequest(media string, id int64, page int) Request {
	req := DetailsRequest(media, id)
	req.Endpoint += "/similar"
	if page < 1 {
		page = 1
	}
	req.Query["page"] = page
	return req
}
