package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-offline-sync/connectivity"
	"github.com/goliatone/go-offline-sync/prefetch"
	"github.com/goliatone/go-offline-sync/syncqueue"
)

type stubOracle struct{ status connectivity.Status }

func (o stubOracle) Status() connectivity.Status { return o.status }

type stubQueue struct {
	stats syncqueue.Stats
	err   error
}

func (q stubQueue) Stats(context.Context) (syncqueue.Stats, error) { return q.stats, q.err }

type stubSyncer struct {
	calls int
	err   error
}

func (s *stubSyncer) Sync(context.Context) error {
	s.calls++
	return s.err
}

type stubNavigator struct{ pages []string }

func (n *stubNavigator) Navigate(_ context.Context, page string) []prefetch.Prediction {
	n.pages = append(n.pages, page)
	return prefetch.Predict(page)
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Deps{Oracle: stubOracle{}, Queue: stubQueue{}})

	rec := serve(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	checked := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	h := NewRouter(Deps{
		Oracle: stubOracle{status: connectivity.Status{Online: true, Known: true, CheckedAt: checked}},
		Queue:  stubQueue{stats: syncqueue.Stats{Pending: 2, Completed: 5, Failed: 1, Capacity: 1000}},
	})

	rec := serve(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Online)
	assert.True(t, checked.Equal(body.CheckedAt))
	assert.Equal(t, syncqueue.Stats{Pending: 2, Completed: 5, Failed: 1, Capacity: 1000}, body.Queue)
}

func TestStatusQueueFailure(t *testing.T) {
	h := NewRouter(Deps{Oracle: stubOracle{}, Queue: stubQueue{err: errors.New("database is locked")}})

	rec := serve(t, h, http.MethodGet, "/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestSync(t *testing.T) {
	syncer := &stubSyncer{}
	h := NewRouter(Deps{Oracle: stubOracle{}, Queue: stubQueue{}, Syncer: syncer})

	rec := serve(t, h, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, syncer.calls)

	syncer.err = errors.New("drain failed")
	rec = serve(t, h, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPrefetch(t *testing.T) {
	nav := &stubNavigator{}
	h := NewRouter(Deps{Oracle: stubOracle{}, Queue: stubQueue{}, Navigator: nav})

	rec := serve(t, h, http.MethodPost, "/prefetch?page=/movie/603")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"predictions":1}`, rec.Body.String())
	assert.Equal(t, []string{"/movie/603"}, nav.pages)

	rec = serve(t, h, http.MethodPost, "/prefetch")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	h := NewRouter(Deps{Oracle: stubOracle{}, Queue: stubQueue{}})

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodPost, "/sync").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/metrics").Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "offline_sync_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewRouter(Deps{Oracle: stubOracle{}, Queue: stubQueue{}, Gatherer: reg})

	rec := serve(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "offline_sync_test_total 1"))
}
