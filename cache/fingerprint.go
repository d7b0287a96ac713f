package cache

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultNamespace prefixes every key built by the engine.
const DefaultNamespace = "offline"

// Fingerprinter builds cache keys of the form
//
//	namespace::verb::fullURL::hash
//
// where hash is the xxhash64 of the URL and the serialized params. Keeping
// the URL readable lets wildcard invalidation match on path fragments.
type Fingerprinter struct {
	Namespace  string
	Serializer KeySerializer
}

// NewFingerprinter returns a Fingerprinter using the default serializer.
func NewFingerprinter(namespace string) Fingerprinter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Fingerprinter{Namespace: namespace, Serializer: NewParamSerializer()}
}

// Key returns the fingerprint for a request. Empty maps and slices are
// treated like nil params.
func (f Fingerprinter) Key(verb, fullURL string, params any) string {
	serializer := f.Serializer
	if serializer == nil {
		serializer = NewParamSerializer()
	}
	if isEmpty(params) {
		params = nil
	}

	sum := xxhash.Sum64String(serializer.SerializeKey(fullURL, params))
	return strings.Join([]string{
		f.Namespace,
		strings.ToLower(verb),
		fullURL,
		strconv.FormatUint(sum, 16),
	}, KeySeparator)
}

// Prefix returns the pattern that matches every key of the namespace.
func (f Fingerprinter) Prefix() string {
	return f.Namespace + KeySeparator + "*"
}

// Fingerprint is Key on a default Fingerprinter for namespace.
func Fingerprint(namespace, verb, fullURL string, params any) string {
	return NewFingerprinter(namespace).Key(verb, fullURL, params)
}

func isEmpty(params any) bool {
	if params == nil {
		return true
	}
	v := reflect.ValueOf(params)
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}
