package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rzbill/feedmux/internal/feeds"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

// handleSubscribeSSE streams records for one key as Server-Sent Events:
// one "data: {json}\n\n" frame per record, flushed immediately, with comment
// heartbeats between records so idle connections stay alive through proxies.
// Closing the client connection cancels the stream via the request context.
func (c *FeedsController) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	q := r.URL.Query()
	key := q.Get("key")
	from, err := parseCursor(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := c.svc.OpenStream(r.Context(), key, feeds.StreamOptions{
		From:   from,
		At:     parseTimestamp(q.Get("at")),
		Filter: q.Get("filter"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer st.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case rec, ok := <-st.C():
			if !ok {
				if serr := st.Err(); serr != nil {
					b, _ := json.Marshal(map[string]string{"error": serr.Error()})
					_, _ = w.Write([]byte("event: error\ndata: "))
					_, _ = w.Write(b)
					_, _ = w.Write([]byte("\n\n"))
					flush()
				}
				return
			}
			b, _ := json.Marshal(viewOf(rec))
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				c.logger.Debug("sse heartbeat write failed", logpkg.Str("key", key))
				return
			}
			flush()
		case <-r.Context().Done():
			return
		}
	}
}
