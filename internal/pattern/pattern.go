// Package pattern implements the `*` wildcard used by cache invalidation.
//
// A `*` matches any run of characters, including none. Every other character
// matches itself.
package pattern

import (
	"regexp"
	"strings"
)

// Pattern is a compiled wildcard expression.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// Compile turns a wildcard expression into a Pattern. It never fails because
// every non-star character is quoted.
func Compile(expr string) Pattern {
	parts := strings.Split(expr, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return Pattern{
		raw: expr,
		re:  regexp.MustCompile("^" + strings.Join(parts, ".*") + "$"),
	}
}

// Match reports whether key matches the expression.
func (p Pattern) Match(key string) bool {
	return p.re.MatchString(key)
}

func (p Pattern) String() string { return p.raw }

// Match is a convenience for one-off checks.
func Match(expr, key string) bool {
	return Compile(expr).Match(key)
}

// LikeEscape is the escape character used by ToLike.
const LikeEscape = `\`

// ToLike rewrites a wildcard expression as a SQL LIKE pattern. Literal `%`,
// `_` and the escape character are escaped so only `*` acts as a wildcard.
// Use with `LIKE ? ESCAPE '\'`.
func ToLike(expr string) string {
	var b strings.Builder
	b.Grow(len(expr) + 4)
	for _, r := range expr {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
