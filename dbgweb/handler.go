package dbgweb

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/debugbar/dbgstore"
	"go.uber.org/zap"
)

// HandlerConfig configures the retrieval endpoints.
type HandlerConfig struct {
	// Store is where full dumps are retrieved from. Optional. Without a
	// store, every dump is not found.
	Store dbgstore.Store

	// LateLogs is where late log entries are read from. Optional. Without
	// it, every request has no late logs.
	LateLogs *dbglog.LateLogs

	// Validator is checked before anything else. Optional. By default,
	// AllowAll.
	Validator Validator

	// HideUnauthorized answers rejected requests with 404 instead of 403.
	HideUnauthorized bool

	// Prefix is the path under which the endpoints are mounted, e.g.
	// "/_debugbar". Optional.
	Prefix string

	// Heartbeat is the interval of heartbeat events on log streams.
	// Optional. By default, 10s.
	Heartbeat time.Duration

	// Logger receives handler faults. Optional. By default, a nop logger.
	Logger *zap.Logger
}

// Handler serves stored dumps and late log entries.
//
//	GET {prefix}/dump?request=ID&dump=ID
//	GET {prefix}/logs?request=ID
//	GET {prefix}/logs/stream?request=ID
type Handler struct {
	store     dbgstore.Store
	late      *dbglog.LateLogs
	validator Validator
	hide      bool
	heartbeat time.Duration
	logger    *zap.Logger
	mux       *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

// NewHandler returns a handler for the retrieval endpoints.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Validator == nil {
		cfg.Validator = AllowAll
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &Handler{
		store:     cfg.Store,
		late:      cfg.LateLogs,
		validator: cfg.Validator,
		hide:      cfg.HideUnauthorized,
		heartbeat: cfg.Heartbeat,
		logger:    cfg.Logger,
		mux:       http.NewServeMux(),
	}

	prefix := strings.TrimSuffix(cfg.Prefix, "/")
	h.mux.HandleFunc("GET "+prefix+"/dump", h.handleDump)
	h.mux.HandleFunc("GET "+prefix+"/logs", h.handleLogs)
	h.mux.HandleFunc("GET "+prefix+"/logs/stream", h.handleStream)
	h.mux.HandleFunc(prefix+"/", func(w http.ResponseWriter, r *http.Request) {
		renderError(w, h.logger, http.StatusNotFound)
	})

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.validator.Allow(r) {
		code := http.StatusForbidden
		if h.hide {
			code = http.StatusNotFound
		}
		h.logger.Debug("request rejected", zap.String("remote_addr", r.RemoteAddr), zap.Error(debugbar.ErrUnauthorized))
		renderError(w, h.logger, code)
		return
	}

	h.mux.ServeHTTP(w, r)
}

// DumpResponse is returned by the dump endpoint.
type DumpResponse struct {
	RequestID string        `json:"request_id"`
	DumpID    string        `json:"dump_id"`
	Node      *dbgdump.Node `json:"node"`
}

func (h *Handler) handleDump(w http.ResponseWriter, r *http.Request) {
	var (
		query     = r.URL.Query()
		requestID = query.Get("request")
		dumpID    = query.Get("dump")
	)

	if h.store == nil {
		renderError(w, h.logger, http.StatusNotFound)
		return
	}

	n, err := h.store.Retrieve(r.Context(), requestID, dumpID)
	switch {
	case errors.Is(err, debugbar.ErrNotFound):
		renderError(w, h.logger, http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("retrieve dump", zap.String("request_id", requestID), zap.String("dump_id", dumpID), zap.Error(err))
		renderError(w, h.logger, http.StatusInternalServerError)
		return
	}

	renderResponse(w, r, h.logger, "dump.html", DumpResponse{
		RequestID: requestID,
		DumpID:    dumpID,
		Node:      n,
	})
}

// LogsResponse is returned by the logs endpoint.
type LogsResponse struct {
	RequestID string         `json:"request_id"`
	Entries   []dbglog.Entry `json:"entries"`
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request")

	entries, err := h.lateEntries(requestID)
	if err != nil {
		renderError(w, h.logger, http.StatusNotFound)
		return
	}

	renderJSON(w, h.logger, http.StatusOK, LogsResponse{
		RequestID: requestID,
		Entries:   entries,
	})
}

func (h *Handler) lateEntries(requestID string) ([]dbglog.Entry, error) {
	if h.late == nil || !debugbar.IsRequestID(requestID) {
		return nil, debugbar.ErrNotFound
	}
	return h.late.Get(requestID)
}

const (
	eventTypeLog       = "log"
	eventTypeHeartbeat = "heartbeat"
)

// handleStream replays the late entries of the request, and then streams new
// ones as they're written.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request")
	if h.late == nil || !debugbar.IsRequestID(requestID) {
		renderError(w, h.logger, http.StatusNotFound)
		return
	}

	eventsource.Handler(func(lastID string, enc *eventsource.Encoder, stop <-chan bool) {
		var (
			logger = h.logger.With(zap.String("request_id", requestID))
			events = make(chan dbglog.Event, 100)
		)

		backlog, unsubscribe, err := h.late.Follow(requestID, events)
		if err != nil {
			logger.Debug("follow late logs", zap.Error(err))
			return
		}
		defer unsubscribe()

		sent := make(map[uint64]struct{}, len(backlog))
		for _, e := range backlog {
			if err := sendEntry(enc, e); err != nil {
				logger.Debug("send late log", zap.Error(err))
				return
			}
			sent[e.Seq] = struct{}{}
		}

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case ev := <-events:
				if _, ok := sent[ev.Entry.Seq]; ok {
					delete(sent, ev.Entry.Seq)
					continue // already replayed
				}
				if err := sendEntry(enc, ev.Entry); err != nil {
					logger.Debug("send late log", zap.Error(err))
					return
				}

			case <-ticker.C:
				if err := sendHeartbeat(enc); err != nil {
					logger.Debug("send heartbeat", zap.Error(err))
					return
				}

			case <-r.Context().Done():
				return

			case <-stop:
				return
			}
		}
	}).ServeHTTP(w, r)
}

func sendEntry(enc *eventsource.Encoder, e dbglog.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return enc.Encode(eventsource.Event{
		Type: eventTypeLog,
		Data: data,
	})
}

func sendHeartbeat(enc *eventsource.Encoder) error {
	return enc.Encode(eventsource.Event{
		Type: eventTypeHeartbeat,
		Data: []byte(`{}`),
	})
}
