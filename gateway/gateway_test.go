package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-offline-sync/backup"
	"github.com/goliatone/go-offline-sync/cache"
	"github.com/goliatone/go-offline-sync/connectivity"
	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/cacheinfra"
	"github.com/goliatone/go-offline-sync/internal/storage"
	"github.com/goliatone/go-offline-sync/invalidation"
	"github.com/goliatone/go-offline-sync/pkg/testsupport"
	"github.com/goliatone/go-offline-sync/remote"
	"github.com/goliatone/go-offline-sync/syncqueue"
)

// fakeAPI serves canned JSON per "METHOD path" and counts requests.
type fakeAPI struct {
	mu       sync.Mutex
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
	hits     map[string]int
	lastAuth string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		routes: make(map[string]func(http.ResponseWriter, *http.Request)),
		hits:   make(map[string]int),
	}
}

func (f *fakeAPI) json(route string, status int, body string) {
	f.routes[route] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakeAPI) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api")
	f.mu.Lock()
	f.hits[route]++
	f.lastAuth = r.Header.Get("Authorization")
	h, ok := f.routes[route]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

type harness struct {
	api     *fakeAPI
	gw      *Gateway
	ui      *UI
	oracle  *connectivity.Oracle
	queue   *syncqueue.Queue
	store   *cacheinfra.SturdycStore
	backup  *backup.Store
	baseURL string
}

func newHarness(t *testing.T, opts ...syncqueue.Option) *harness {
	t.Helper()

	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	store, err := cacheinfra.NewSturdycStore(cacheinfra.DefaultConfig())
	require.NoError(t, err)

	var (
		bs *backup.Store
		q  *syncqueue.Queue
	)
	testsupport.NewTestDB(t,
		func(db *bun.DB) storage.Schema {
			bs = backup.NewStore(db)
			return bs
		},
		func(db *bun.DB) storage.Schema {
			q = syncqueue.NewQueue(db, opts...)
			return q
		},
	)

	oracle := connectivity.NewOracle(connectivity.DefaultConfig())
	keys := cache.NewFingerprinter("offline")
	baseURL := srv.URL + "/api"

	svc := cache.NewService(store,
		cache.WithBackup(bs),
		cache.WithAccessRecorder(bs),
		cache.WithOracle(oracle),
	)

	cfg := remote.DefaultHTTPConfig("test")
	cfg.RetryDelay = time.Millisecond
	client := remote.NewHTTPClient(cfg)

	gw := New(baseURL, client, svc,
		WithOracle(oracle),
		WithQueue(q),
		WithInvalidator(invalidation.NewEngine(store, keys, baseURL, invalidation.WithBackup(bs))),
		WithFingerprinter(keys),
		WithTokens(StaticToken("secret")),
	)

	return &harness{
		api:     api,
		gw:      gw,
		ui:      NewUI(gw),
		oracle:  oracle,
		queue:   q,
		store:   store,
		backup:  bs,
		baseURL: baseURL,
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		path string
		want cache.Category
	}{
		{"/users/me", cache.CategoryUserData},
		{"/wishlists/w1", cache.CategoryWishlist},
		{"/wishlists", cache.CategoryAPIResponse},
		{"/items/3", cache.CategoryAPIResponse},
		{"/trending", cache.CategoryTrending},
		{"/feed", cache.CategoryAPIResponse},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryFor(tt.path))
		})
	}
}

func TestGateway_ReadIsCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /wishlists", http.StatusOK, `{"data":[{"uuid":"w1"}]}`)

	first, err := h.gw.Read(ctx, "/wishlists", ReadOptions{})
	require.NoError(t, err)
	second, err := h.gw.Read(ctx, "/wishlists", ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, h.api.count("GET /wishlists"))
	assert.Equal(t, first, second)
	require.Len(t, first.Items(), 1)
	assert.Equal(t, "Bearer secret", h.api.lastAuth)
}

func TestGateway_ReadExplicitTokenWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /users/me", http.StatusOK, `{"name":"ada"}`)

	_, err := h.gw.Read(ctx, "/users/me", ReadOptions{Token: "override", NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, "Bearer override", h.api.lastAuth)
}

func TestGateway_ReadParamsChangeKey(t *testing.T) {
	h := newHarness(t)
	a := h.gw.KeyFor("/items", map[string]any{"page": 1})
	b := h.gw.KeyFor("/items", map[string]any{"page": 2})
	assert.NotEqual(t, a, b)
	assert.Equal(t, h.gw.KeyFor("/items", nil), h.gw.KeyFor("/items", map[string]any{}))
}

func TestGateway_ReadErrorStatusIsNotCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /items", http.StatusForbidden, `{"message":"nope"}`)

	_, err := h.gw.Read(ctx, "/items", ReadOptions{})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeNoOfflineData))

	env := h.ui.Get(ctx, "/items", ReadOptions{})
	assert.True(t, env.IsEmpty())
	assert.Equal(t, 2, h.api.count("GET /items"))
}

func TestGateway_ReadNoCacheBypassesCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /trending", http.StatusOK, `[1,2,3]`)

	for i := 0; i < 2; i++ {
		env, err := h.gw.Read(ctx, "/trending", ReadOptions{NoCache: true})
		require.NoError(t, err)
		assert.Equal(t, remote.ShapeList, env.Shape())
	}
	assert.Equal(t, 2, h.api.count("GET /trending"))
	assert.False(t, h.gw.cache.Has(ctx, h.gw.KeyFor("/trending", nil)))
}

func TestGateway_ReadOfflineUsesBackup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /wishlists", http.StatusOK, `{"data":[{"uuid":"w1"}]}`)

	online, err := h.gw.Read(ctx, "/wishlists", ReadOptions{})
	require.NoError(t, err)

	require.NoError(t, h.store.Flush(ctx))
	h.oracle.Report(false)

	offline, err := h.gw.Read(ctx, "/wishlists", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.api.count("GET /wishlists"))
	assert.Equal(t, online.Items(), offline.Items())
}

func TestGateway_ReadOfflineMiss(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.oracle.Report(false)

	_, err := h.gw.Read(ctx, "/wishlists", ReadOptions{})
	assert.Equal(t, apperr.KindOfflineMiss, apperr.KindOf(err))
	assert.Zero(t, h.api.count("GET /wishlists"))
}

func TestGateway_WriteInvalidatesDetail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /wishlists/w1", http.StatusOK, `{"uuid":"w1","name":"old"}`)
	h.api.json("PATCH /wishlists/w1", http.StatusOK, `{"uuid":"w1","name":"new"}`)

	_, err := h.gw.Read(ctx, "/wishlists/w1", ReadOptions{})
	require.NoError(t, err)

	res, err := h.gw.Write(ctx, "patch", "/wishlists/w1", map[string]any{"name": "new"}, WriteOptions{})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, "new", res.Body.String("name"))

	_, err = h.gw.Read(ctx, "/wishlists/w1", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, h.api.count("GET /wishlists/w1"))
}

func TestGateway_WriteErrorStatusKeepsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /wishlists/w1", http.StatusOK, `{"uuid":"w1"}`)
	h.api.json("PATCH /wishlists/w1", http.StatusUnprocessableEntity, `{"errors":{"name":["required"]}}`)

	_, err := h.gw.Read(ctx, "/wishlists/w1", ReadOptions{})
	require.NoError(t, err)

	env := h.ui.Patch(ctx, "/wishlists/w1", nil, true)
	_, hasErrors := env.Field("errors")
	assert.True(t, hasErrors)
	assert.True(t, h.gw.cache.Has(ctx, h.gw.KeyFor("/wishlists/w1", nil)))
}

func TestGateway_WriteRejectsReadVerb(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.Write(context.Background(), "GET", "/items", nil, WriteOptions{})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidMutation))
}

func TestGateway_WriteRejectsPut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.gw.Write(ctx, "PUT", "/items/1", nil, WriteOptions{})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidMutation))

	h.oracle.Report(false)
	_, err = h.gw.Write(ctx, "put", "/items/1", nil, WriteOptions{QueueOnOffline: true})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidMutation))

	assert.Zero(t, h.api.count("PUT /items/1"))
	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestGateway_WriteTransportFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gw.client = remote.ClientFunc(func(context.Context, remote.Request) (*remote.Response, error) {
		return nil, apperr.Transient(errors.New("connection refused"), "remote call failed")
	})

	env := h.ui.Post(ctx, "/items", map[string]any{"title": "Alien"}, false)
	assert.False(t, env.Bool("success"))
	assert.False(t, env.Bool("queued"))
	assert.Contains(t, env.String("error"), "remote call failed")

	env = h.ui.Post(ctx, "/items", map[string]any{"title": "Alien"}, true)
	assert.False(t, env.Bool("success"))
	assert.True(t, env.Bool("queued"))

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestUI_OfflineWriteWithoutQueueFlagFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gw.client = remote.ClientFunc(func(context.Context, remote.Request) (*remote.Response, error) {
		return nil, apperr.Transient(errors.New("no route to host"), "remote call failed")
	})
	h.oracle.Report(false)

	env := h.ui.Delete(ctx, "/items/4", nil, false)
	assert.False(t, env.Bool("queued"))
	assert.NotEmpty(t, env.String("error"))
}

func TestUI_QueueFullIsReported(t *testing.T) {
	ctx := context.Background()
	cfg := syncqueue.DefaultConfig()
	cfg.Capacity = 1
	h := newHarness(t, syncqueue.WithConfig(cfg))
	h.oracle.Report(false)

	env := h.ui.Post(ctx, "/wishlists", map[string]any{"name": "A"}, true)
	assert.True(t, env.Bool("success"))
	assert.True(t, env.Bool("queued"))
	assert.Equal(t, QueuedMessage, env.String("message"))

	env = h.ui.Post(ctx, "/wishlists", map[string]any{"name": "B"}, true)
	assert.False(t, env.Bool("success"))
	assert.False(t, env.Bool("queued"))
	assert.Contains(t, env.String("error"), "maximum size of 1")
}

func TestEndToEnd_OfflineWishlistEdit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /wishlists", http.StatusOK, `{"data":[{"uuid":"w1"}]}`)

	var patched map[string]any
	h.api.routes["PATCH /wishlists/w1"] = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&patched)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"uuid":"w1","name":"Weekend"}`)
	}

	env := h.ui.Get(ctx, "/wishlists", ReadOptions{})
	require.Len(t, env.Items(), 1)
	assert.True(t, h.gw.cache.Has(ctx, h.gw.KeyFor("/wishlists", nil)))

	h.oracle.Report(false)
	res := h.ui.Patch(ctx, "/wishlists/w1", map[string]any{"name": "Weekend"}, true)
	assert.True(t, res.Bool("success"))
	assert.True(t, res.Bool("queued"))
	assert.Zero(t, h.api.count("PATCH /wishlists/w1"))

	pending, err := h.queue.List(ctx, syncqueue.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "PATCH", pending[0].Verb)
	assert.Equal(t, "/wishlists/w1", pending[0].TargetPath)

	h.oracle.Report(true)
	report, err := h.queue.Drain(ctx, 10, h.gw)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, h.api.count("PATCH /wishlists/w1"))
	assert.Equal(t, "Weekend", patched["name"])

	done, err := h.queue.Get(ctx, pending[0].ID.String())
	require.NoError(t, err)
	assert.Equal(t, syncqueue.StatusCompleted, done.Status)

	// the replayed write invalidated the cached list
	assert.False(t, h.gw.cache.Has(ctx, h.gw.KeyFor("/wishlists", nil)))
}

func TestGateway_ReplayErrorStatusFails(t *testing.T) {
	h := newHarness(t)
	h.api.json("DELETE /items/9", http.StatusConflict, `{}`)

	err := h.gw.Replay(context.Background(), "DELETE", "/items/9", nil)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeRemoteStatus))
}

func TestGateway_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.json("GET /trending", http.StatusOK, `{"results":[1]}`)

	_, err := h.gw.Read(ctx, "/trending", ReadOptions{})
	require.NoError(t, err)

	h.ui.InvalidateUserCache(ctx)

	key := h.gw.KeyFor("/trending", nil)
	assert.False(t, h.gw.cache.Has(ctx, key))
	_, found, err := h.backup.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = h.gw.Read(ctx, "/trending", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, h.api.count("GET /trending"))
}

func jpeg(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	return b
}

func TestGateway_Upload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var received int
	h.api.routes["POST /users/avatar"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("avatar")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, f)
		received = buf.Len()
		_, _ = io.WriteString(w, `{"success":true}`)
	}

	file := remote.File{Field: "avatar", Name: "avatar.jpg", ContentType: "image/jpeg", Content: jpeg(int(MaxUploadBytes))}
	env := h.ui.PostWithFile(ctx, "/users/avatar", file, nil)
	assert.True(t, env.Bool("success"))
	assert.Equal(t, int(MaxUploadBytes), received)
}

func TestUploadPolicy_Check(t *testing.T) {
	policy := DefaultUploadPolicy()
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

	tests := []struct {
		name string
		file remote.File
		code string
		msg  string
	}{
		{
			name: "exactly at limit",
			file: remote.File{Name: "large.jpg", ContentType: "image/jpeg", Content: jpeg(5242880)},
		},
		{
			name: "one byte over",
			file: remote.File{Name: "large.jpg", ContentType: "image/jpeg", Content: jpeg(5242881)},
			code: apperr.CodeUploadTooLarge,
			msg:  "exceeds maximum allowed size",
		},
		{
			name: "pdf",
			file: remote.File{Name: "document.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4\n")},
			code: apperr.CodeUploadType,
			msg:  "is not allowed",
		},
		{
			name: "oversized pdf reports size first",
			file: remote.File{Name: "document.pdf", ContentType: "application/pdf", Content: make([]byte, 5242881)},
			code: apperr.CodeUploadTooLarge,
		},
		{
			name: "wrong extension",
			file: remote.File{Name: "photo.txt", ContentType: "image/png", Content: png},
			code: apperr.CodeUploadExtension,
			msg:  "is not allowed",
		},
		{
			name: "missing extension",
			file: remote.File{Name: "photo", ContentType: "image/png", Content: png},
			code: apperr.CodeUploadExtension,
		},
		{
			name: "content does not match",
			file: remote.File{Name: "photo.png", ContentType: "image/png", Content: []byte("MZ\x90\x00 not an image")},
			code: apperr.CodeUploadType,
		},
		{
			name: "png with parameters",
			file: remote.File{Name: "photo.PNG", ContentType: "image/png; charset=binary", Content: png},
		},
		{
			name: "undeclared type is sniffed",
			file: remote.File{Name: "photo.png", Content: png},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Check(tt.file)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestGateway_UploadRejectedLocally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	env := h.ui.PostWithFile(ctx, "/users/avatar", remote.File{
		Name: "huge.jpg", ContentType: "image/jpeg", Content: jpeg(6 << 20),
	}, nil)
	assert.Contains(t, env.String("error"), "exceeds maximum allowed size")
	assert.Zero(t, h.api.count("POST /users/avatar"))
}

func TestChainTokens(t *testing.T) {
	ctx := context.Background()
	session := &SessionToken{}
	chain := ChainTokens{session, nil, StaticToken("stored")}

	assert.Equal(t, "stored", chain.Token(ctx))
	session.Set("live")
	assert.Equal(t, "live", chain.Token(ctx))
	assert.Equal(t, "x", TokenFunc(func(context.Context) string { return "x" }).Token(ctx))
}
