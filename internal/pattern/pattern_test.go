package pattern

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		expr string
		key  string
		want bool
	}{
		{"*wishlists*", "api::get::/wishlists/42::abc", true},
		{"*wishlists*", "api::get::/items::abc", false},
		{"api::*", "api::get::/x::1", true},
		{"api::*", "other::get::/x::1", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"*", "", true},
		{"a.b*", "a.b.c", true},
		{"a.b*", "axb", false},
		{"*items/1*", "api::get::/items/12::f", true},
		{"(x)*", "(x)y", true},
	}

	for _, tc := range cases {
		if got := Match(tc.expr, tc.key); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.expr, tc.key, got, tc.want)
		}
	}
}

func TestToLike(t *testing.T) {
	cases := map[string]string{
		"*wishlists*":  "%wishlists%",
		"api::*":       "api::%",
		"100%_done*":   `100\%\_done%`,
		`back\slash*`:  `back\\slash%`,
		"no-wildcards": "no-wildcards",
	}
	for in, want := range cases {
		if got := ToLike(in); got != want {
			t.Errorf("ToLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPatternString(t *testing.T) {
	if got := Compile("*x*").String(); got != "*x*" {
		t.Fatalf("String() = %q", got)
	}
}
