package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rzbill/feedmux/internal/feedlog"
	"github.com/rzbill/feedmux/internal/feeds"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

// FeedsController serves the publish/read/subscribe endpoints.
type FeedsController struct {
	svc       *feeds.Service
	heartbeat time.Duration
	logger    logpkg.Logger
}

func NewFeedsController(svc *feeds.Service, heartbeat time.Duration, logger logpkg.Logger) *FeedsController {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &FeedsController{svc: svc, heartbeat: heartbeat, logger: logger}
}

func (c *FeedsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/feeds/publish", c.handlePublish)
	mux.HandleFunc("/v1/feeds/read", c.handleRead)
	mux.HandleFunc("/v1/feeds/subscribe", c.handleSubscribeSSE)
	mux.HandleFunc("/v1/feeds/ws", c.handleWS)
}

// recordView is the wire form of a record on the JSON endpoints.
type recordView struct {
	ID      string            `json:"id"`
	Key     string            `json:"key"`
	TsMs    int64             `json:"tsMs"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload []byte            `json:"payload"`
}

func viewOf(rec feedlog.Record) recordView {
	return recordView{
		ID:      rec.ID.String(),
		Key:     rec.Key,
		TsMs:    rec.ID.Ms(),
		Headers: rec.Headers,
		Payload: rec.Payload,
	}
}

type publishReq struct {
	Key     string            `json:"key"`
	Payload []byte            `json:"payload"`
	Headers map[string]string `json:"headers"`
}

func (c *FeedsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req publishReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := feedlog.ValidateKey(req.Key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := c.svc.Publish(r.Context(), req.Key, req.Payload, req.Headers)
	if err != nil {
		if errors.Is(err, feeds.ErrPayloadTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"id": rec.ID.String()})
}

func (c *FeedsController) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	q := r.URL.Query()
	key := q.Get("key")
	if err := feedlog.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseCursor(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if at := parseTimestamp(q.Get("at")); at > 0 && from.IsZero() {
		if from, err = c.svc.FindAt(r.Context(), key, at); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	recs, next, err := c.svc.Read(r.Context(), key, from, parseLimit(q.Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}
	writeJSON(w, map[string]any{"records": views, "next": next.String()})
}
