package controllers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzbill/feedmux/internal/feedlog"
	"github.com/rzbill/feedmux/internal/feeds"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRecord is the msgpack wire frame for one record.
type wsRecord struct {
	Key     string            `msgpack:"key"`
	ID      string            `msgpack:"id"`
	TsMs    int64             `msgpack:"ts_ms"`
	Headers map[string]string `msgpack:"headers,omitempty"`
	Payload []byte            `msgpack:"payload"`
}

// wsError reports a terminal stream error to the client before closing.
type wsError struct {
	Error string `msgpack:"error"`
}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (wc *wsConn) write(messageType int, buf []byte) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	_ = wc.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wc.c.WriteMessage(messageType, buf)
}

// handleWS upgrades the connection and streams msgpack-framed records for one
// key. Pings pace liveness; a client that stops answering pongs is dropped.
func (c *FeedsController) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	from, err := parseCursor(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := feedlog.ValidateKey(key); err != nil {
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

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		st.Close()
		c.logger.Warn("ws upgrade failed", logpkg.Err(err))
		return
	}
	conn := &wsConn{c: ws}
	defer ws.Close()
	defer st.Close()

	// reader: pong handling and client-initiated close
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Debug("ws read ended", logpkg.Str("key", key), logpkg.Err(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		select {
		case rec, ok := <-st.C():
			if !ok {
				if serr := st.Err(); serr != nil {
					if buf, merr := msgpack.Marshal(wsError{Error: serr.Error()}); merr == nil {
						_ = conn.write(websocket.BinaryMessage, buf)
					}
				}
				_ = conn.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			buf, merr := msgpack.Marshal(wsRecord{
				Key:     rec.Key,
				ID:      rec.ID.String(),
				TsMs:    rec.ID.Ms(),
				Headers: rec.Headers,
				Payload: rec.Payload,
			})
			if merr != nil {
				c.logger.Warn("ws frame marshal failed", logpkg.Err(merr))
				continue
			}
			if err := conn.write(websocket.BinaryMessage, buf); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.write(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
