package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/dispatch"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/metrics"
	"github.com/roach88/framejobs/internal/testutil"
)

type fixture struct {
	server   *Server
	svc      *engine.Service
	provider *buffer.PoolProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := buffer.NewPoolProvider("status-test", buffer.WithMaxBuffers(4))
	tl := testutil.NewTimeline(t, "video")
	tl.Provider = provider
	tl.Splice(t, 0, time.Second, map[string]job.Functor{
		"video": &testutil.ScriptedFunctor{JobKind: job.CalcJob, Buffers: []int{32}},
	})

	met := metrics.New()
	svc := engine.New(dispatch.NewTable(tl.Registry, tl.Segments), testutil.NewRecordingScheduler(),
		engine.WithClock(testutil.NewFakeClock()),
		engine.WithMetrics(met),
		engine.WithStreamIDs(engine.NewFixedGenerator("s1")),
		engine.WithLookAheadChunks(1),
	)
	_, err := svc.Calculate(context.Background(), tl.Port("video"), frame.DefaultTimings(frame.FPS25),
		engine.OutputConnection{Sink: "monitor"}, engine.QualityDefault)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{server: New(svc, provider, met, log), svc: svc, provider: provider}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_ListStreams(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/streams")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []StreamView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "s1", v.ID)
	assert.Equal(t, "monitor", v.Sink)
	assert.Equal(t, "asap", v.Urgency)
	assert.Equal(t, "default", v.Quality)
	assert.True(t, v.Active)
	assert.Equal(t, int64(5), v.Planned)
	assert.Equal(t, int64(5), v.Pending)
	assert.Equal(t, int64(5), v.NextFrame)
}

func TestServer_GetStream(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/streams/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var v StreamView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.Equal(t, int64(1), v.Chunks)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/streams/nope").Code)
}

func TestServer_StopStream(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/streams/s1/stop").Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/streams/s1/stop").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/streams/nope/stop").Code)

	cs, ok := f.svc.Stream("s1")
	require.True(t, ok)
	assert.Equal(t, "stopped", cs.Stats().EndReason)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/streams/nope")

	rec := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "framejobs_streams_active 1")
	assert.Contains(t, body, "framejobs_jobs_in_flight 5")
	assert.Contains(t, body, "framejobs_buffers_in_use 0")
	assert.Contains(t, body, `framejobs_jobs_planned_total{kind="CALC"} 5`)
	assert.Contains(t, body, `framejobs_status_requests_total{class="error"} 1`)
}

func TestServer_Buffers(t *testing.T) {
	f := newFixture(t)
	h, err := f.provider.Lock(context.Background(), f.provider.DescriptorFor(4096))
	require.NoError(t, err)
	defer h.Release()

	rec := f.do(t, http.MethodGet, "/buffers")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Provider string       `json:"provider"`
		Types    []BufferView `json:"types"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "pool", got.Provider)
	require.Len(t, got.Types, 1)
	assert.Equal(t, 4096, got.Types[0].Size)
	assert.Equal(t, "4.0 KiB", got.Types[0].SizeHuman)
	assert.Equal(t, 1, got.Types[0].InUse)
	assert.Equal(t, 4, got.Types[0].Max)
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
