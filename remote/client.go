// Package remote is the transport layer for the app API and the metadata API.
package remote

import (
	"context"
	"net/http"
	"path"
	"strings"
)

// Client performs one request against a remote API.
//
// A transport failure (timeout, refused connection, exhausted 5xx retries) is
// returned as an error. Any other status comes back as a Response with a nil
// error so callers can inspect it.
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Request describes a remote call.
type Request struct {
	Method string
	URL    string
	Token  string
	Params map[string]any
	Header http.Header
	File   *File
}

// File is an in-memory upload.
type File struct {
	// Field is the multipart field name. Default: "file".
	Field       string
	Name        string
	ContentType string
	Content     []byte
}

// Size returns the content length in bytes.
func (f *File) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Content))
}

// Extension returns the lower case extension of Name without the dot.
func (f *File) Extension() string {
	if f == nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.Name), "."))
}

// Response is a completed remote call. It is also what the metadata pipeline
// synthesizes when it answers from the offline backup.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Envelope decodes the body.
func (r *Response) Envelope() Envelope {
	if r == nil {
		return Empty()
	}
	return Decode(r.Body)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Do calls f.
func (f ClientFunc) Do(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// JoinURL appends path to base verbatim. Cache keys and invalidation both
// depend on this exact spelling of the full URL.
func JoinURL(base, path string) string {
	return base + path
}
