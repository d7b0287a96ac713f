package invalidation

import (
	"regexp"
	"strings"
)

// ReverseLookup purges detail entries of every member listed in a cached
// collection snapshot.
type ReverseLookup struct {
	// ListPath is the path of the cached collection list.
	ListPath string
	// Field names the identifier of each member.
	Field string
	// DetailPath is the member detail path template, with {id}.
	DetailPath string
}

// Rule maps a mutated resource to the cache entries it can make stale.
type Rule struct {
	// Resource is matched as a substring of the mutated path.
	Resource string
	// Paths are exact GET paths to forget. {id} is replaced with the id
	// extracted after Resource; templates with {id} are skipped when there is
	// no usable id. Each path is forgotten with and without a leading slash.
	Paths []string
	// Patterns are `*` wildcards applied within the engine namespace.
	Patterns []string
	Reverse  *ReverseLookup
}

// DefaultRules cover the app API: collections (wishlists) and their items.
// Order matters, the first matching rule wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Resource: "wishlists",
			Paths: []string{
				"wishlists",
				"wishlists/{id}",
				"wishlists/{id}/items",
				"items",
				"trending",
			},
			Patterns: []string{"*wishlists*", "*items*", "*trending*"},
		},
		{
			Resource: "items",
			Paths: []string{
				"items",
				"items/{id}",
			},
			Patterns: []string{"*items*", "*wishlists/*"},
			Reverse: &ReverseLookup{
				ListPath:   "wishlists",
				Field:      "uuid",
				DetailPath: "wishlists/{id}",
			},
		},
	}
}

// ExtractID returns the first path segment after resource, or "" when the
// path has none. "0" is treated as no id.
func ExtractID(path, resource string) string {
	re := regexp.MustCompile(regexp.QuoteMeta(resource) + `/([^/?#]+)`)
	m := re.FindStringSubmatch(path)
	if len(m) < 2 {
		return ""
	}
	id := m[1]
	if id == "0" {
		return ""
	}
	return id
}

func (r Rule) matches(path string) bool {
	return strings.Contains(path, r.Resource)
}

// expand returns the concrete paths for id, each in both slash spellings.
func (r Rule) expand(id string) []string {
	out := make([]string, 0, len(r.Paths)*2)
	for _, tmpl := range r.Paths {
		if strings.Contains(tmpl, "{id}") {
			if id == "" {
				continue
			}
			tmpl = strings.ReplaceAll(tmpl, "{id}", id)
		}
		out = append(out, spellings(tmpl)...)
	}
	return out
}

func spellings(path string) []string {
	bare := strings.TrimPrefix(path, "/")
	return []string{bare, "/" + bare}
}
