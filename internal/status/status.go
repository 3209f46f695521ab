// Package status serves the read-mostly HTTP surface of a running service:
// Prometheus metrics, stream state and buffer usage.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/logging"
	"github.com/roach88/framejobs/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server exposes a calculation service over HTTP.
type Server struct {
	svc      *engine.Service
	provider buffer.Provider
	metrics  *metrics.Metrics
	log      *slog.Logger
	router   chi.Router
}

// New builds the router. met may be nil, which disables /metrics.
func New(svc *engine.Service, provider buffer.Provider, met *metrics.Metrics, log *slog.Logger) *Server {
	s := &Server{svc: svc, provider: provider, metrics: met, log: log}

	r := chi.NewRouter()
	r.Use(logging.RequestLogger(log))
	if met != nil {
		r.Use(met.RequestMiddleware())
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			met.Handler(s.updateGauges).ServeHTTP(w, r)
		})
	}
	r.Get("/healthz", s.health)
	r.Get("/buffers", s.buffers)
	r.Route("/streams", func(r chi.Router) {
		r.Get("/", s.listStreams)
		r.Get("/{stream_id}", s.getStream)
		r.Post("/{stream_id}/stop", s.stopStream)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("status server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("status server draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

func (s *Server) updateGauges() {
	active := 0
	for _, cs := range s.svc.Streams() {
		if cs.Active() {
			active++
		}
	}
	s.metrics.SetActiveStreams(active)
	s.metrics.SetInFlight(s.svc.InFlight())
	s.metrics.SetBuffersInUse(buffersInUse(s.provider))
}

func buffersInUse(p buffer.Provider) int {
	switch p := p.(type) {
	case *buffer.PoolProvider:
		return p.InUse()
	case *buffer.TrackingProvider:
		return p.LiveCount()
	}
	return 0
}

// StreamView is the JSON form of a calculation stream.
type StreamView struct {
	ID        string `json:"id"`
	Port      string `json:"port"`
	Channel   uint   `json:"channel"`
	Sink      string `json:"sink,omitempty"`
	Urgency   string `json:"urgency"`
	Quality   string `json:"quality"`
	Active    bool   `json:"active"`
	EndReason string `json:"end_reason,omitempty"`

	Chunks    int64 `json:"chunks"`
	Planned   int64 `json:"planned"`
	Skipped   int64 `json:"skipped"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Stale     int64 `json:"stale"`
	Late      int64 `json:"late"`
	Pending   int64 `json:"pending"`
	NextFrame int64 `json:"next_frame"`
}

func viewOf(cs engine.CalcStream) StreamView {
	st := cs.Stats()
	return StreamView{
		ID:        cs.ID(),
		Port:      cs.Port().String(),
		Channel:   cs.Channel(),
		Sink:      cs.Output().Sink,
		Urgency:   cs.Timings().Urgency.String(),
		Quality:   cs.Quality().String(),
		Active:    st.Active,
		EndReason: st.EndReason,
		Chunks:    st.Chunks,
		Planned:   st.Planned,
		Skipped:   st.Skipped,
		Completed: st.Completed,
		Failed:    st.Failed,
		Stale:     st.Stale,
		Late:      st.Late,
		Pending:   st.Pending,
		NextFrame: st.NextFrame,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "in_flight": s.svc.InFlight()})
}

func (s *Server) listStreams(w http.ResponseWriter, _ *http.Request) {
	streams := s.svc.Streams()
	out := make([]StreamView, len(streams))
	for i, cs := range streams {
		out[i] = viewOf(cs)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.svc.Stream(chi.URLParam(r, "stream_id"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(cs))
}

func (s *Server) stopStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stream_id")
	cs, ok := s.svc.Stream(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !cs.Active() {
		w.WriteHeader(http.StatusConflict)
		return
	}
	cs.Stop()
	s.log.Info("stream stopped over http", "stream", id)
	w.WriteHeader(http.StatusNoContent)
}

// BufferView is the JSON form of one pooled buffer type.
type BufferView struct {
	Type      string `json:"type"`
	Size      int    `json:"size"`
	SizeHuman string `json:"size_human"`
	InUse     int    `json:"in_use"`
	Free      int    `json:"free"`
	Max       int    `json:"max"`
	Held      string `json:"held"`
}

func (s *Server) buffers(w http.ResponseWriter, _ *http.Request) {
	switch p := s.provider.(type) {
	case *buffer.PoolProvider:
		stats := p.Stats()
		sort.Slice(stats, func(i, j int) bool { return stats[i].Size < stats[j].Size })
		out := make([]BufferView, len(stats))
		for i, st := range stats {
			out[i] = BufferView{
				Type:      fmt.Sprintf("%016x", uint64(st.Type)),
				Size:      st.Size,
				SizeHuman: humanize.IBytes(uint64(st.Size)),
				InUse:     st.InUse,
				Free:      st.Free,
				Max:       st.Max,
				Held:      humanize.IBytes(uint64(st.Size * st.InUse)),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"provider": "pool", "types": out})
	case *buffer.TrackingProvider:
		writeJSON(w, http.StatusOK, map[string]any{
			"provider":  "tracking",
			"live":      p.LiveCount(),
			"allocated": p.AllocatedCount(),
			"emitted":   p.EmittedCount(),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"provider": fmt.Sprintf("%T", p)})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
