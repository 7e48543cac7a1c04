package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"scrobble-orchestrator/internal/platform/metrics"
	"scrobble-orchestrator/internal/play"
)

// MaxEventBytes bounds the body of one posted event.
const MaxEventBytes = 64 << 10

// Submitter queues events for the engine; *Pipeline implements it.
type Submitter interface {
	Submit(ctx context.Context, ev play.Event) error
}

// Handler exposes the ingestion and status endpoints using go-chi.
type Handler struct {
	engine    *Engine
	submitter Submitter
	log       *slog.Logger
	metrics   *metrics.Metrics

	limit    rate.Limit
	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHandler returns a Handler submitting events through sub. perSecond
// limits events per source; zero or less disables the limit. Metrics may be
// nil to disable metric recording (e.g. in tests).
func NewHandler(engine *Engine, sub Submitter, perSecond float64, log *slog.Logger, m *metrics.Metrics) *Handler {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Handler{
		engine:    engine,
		submitter: sub,
		log:       log,
		metrics:   m,
		limit:     limit,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/players", h.ListPlayers)
	r.Get("/sources", h.ListSources)
	r.Route("/sources/{source}", func(r chi.Router) {
		r.Post("/events", h.IngestEvent)
		r.Post("/shutdown", h.ShutdownSource)
	})
}

func (h *Handler) limiter(source string) *rate.Limiter {
	h.limitMu.Lock()
	defer h.limitMu.Unlock()
	l, ok := h.limiters[source]
	if !ok {
		burst := max(1, int(math.Ceil(float64(h.limit))))
		if h.limit == rate.Inf {
			burst = 1
		}
		l = rate.NewLimiter(h.limit, burst)
		h.limiters[source] = l
	}
	return l
}

// IngestEvent handles POST /sources/{source}/events.
// Body: a play event, e.g. { "artists": ["Air"], "track": "La Femme d'Argent",
// "duration": 428, "position": 12, "kind": "playing", "deviceId": "kitchen" }.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	src, ok := h.engine.Source(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var ev play.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxEventBytes)).Decode(&ev); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.Warn("event body too large", slog.String("source", name), slog.Int64("limit", tooLarge.Limit))
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Debug("invalid event body", slog.String("source", name), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ev = src.Stamp(ev)

	if !h.limiter(name).Allow() {
		h.log.Warn("event rate limited", slog.String("source", name))
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	if err := h.submitter.Submit(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			w.WriteHeader(http.StatusTooManyRequests)
		case errors.Is(err, ErrPipelineClosed):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			h.log.Error("submit event failed", slog.String("source", name), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"platformId": string(ev.PlatformID())})
}

// ShutdownSource handles POST /sources/{source}/shutdown. The response lists
// the listens finalized by the drain.
func (h *Handler) ShutdownSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	src, ok := h.engine.Source(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	listens := src.Shutdown()
	if listens == nil {
		listens = []play.Listen{}
	}
	writeJSON(w, http.StatusOK, listens)
}

// ListPlayers handles GET /players. An optional ?source= narrows the list.
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	views := h.engine.Players()
	if source := r.URL.Query().Get("source"); source != "" {
		kept := views[:0]
		for _, v := range views {
			if v.Source == source {
				kept = append(kept, v)
			}
		}
		views = kept
	}
	writeJSON(w, http.StatusOK, StatusDocuments(views))
}

// ListSources handles GET /sources.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.SourceStatuses())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
