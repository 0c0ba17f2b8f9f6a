package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/feedmux/internal/config"
	"github.com/rzbill/feedmux/internal/feeds"
	"github.com/rzbill/feedmux/internal/runtime"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

func newServerForTest(t *testing.T) *Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.Puller.CycleIntervalMs = 1
	cfg.Puller.IdleWaitMs = 5

	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	svc, err := feeds.New(rt, logger)
	if err != nil {
		t.Fatalf("svc: %v", err)
	}
	svc.Start(context.Background())
	t.Cleanup(func() { _ = svc.Close() })
	return New(svc, 50*time.Millisecond, logger)
}

func TestHealthHandler(t *testing.T) {
	s := newServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestPublishAndReadHandlers(t *testing.T) {
	s := newServerForTest(t)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"key":"orders","payload":"aGVsbG8=","headers":{"n":"%d"}}`, i)
		req := httptest.NewRequest(http.MethodPost, "/v1/feeds/publish", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.srv.Handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("publish status: %d body=%s", w.Code, w.Body.String())
		}
		var resp map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["id"] == "" {
			t.Fatalf("publish response: %s", w.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/feeds/read?key=orders&limit=2", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("read status: %d", w.Code)
	}
	var page struct {
		Records []struct {
			ID      string `json:"id"`
			Payload []byte `json:"payload"`
		} `json:"records"`
		Next string `json:"next"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Records) != 2 || string(page.Records[0].Payload) != "hello" {
		t.Fatalf("page: %+v", page)
	}

	// continue from the returned cursor
	req = httptest.NewRequest(http.MethodGet, "/v1/feeds/read?key=orders&from="+page.Next, nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page2: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("page2 size: %d", len(page.Records))
	}
}

func TestPublishRejectsBadKey(t *testing.T) {
	s := newServerForTest(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/feeds/publish", strings.NewReader(`{"key":"","payload":"eA=="}`))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestReadRejectsBadCursor(t *testing.T) {
	s := newServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/feeds/read?key=orders&from=nothex", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestSubscribeSSEStreamsRecords(t *testing.T) {
	s := newServerForTest(t)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/feeds/subscribe?key=orders", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	pub := fmt.Sprintf(`{"key":"orders","payload":"%s"}`, "aGVsbG8=")
	pr, err := http.Post(ts.URL+"/v1/feeds/publish", "application/json", strings.NewReader(pub))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	pr.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var rec struct {
			Key     string `json:"key"`
			Payload []byte `json:"payload"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec); err != nil {
			t.Fatalf("frame decode: %v", err)
		}
		if rec.Key != "orders" || string(rec.Payload) != "hello" {
			t.Fatalf("frame: %+v", rec)
		}
		return
	}
	t.Fatalf("no data frame before stream end: %v", scanner.Err())
}

func TestCORSPreflight(t *testing.T) {
	s := newServerForTest(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/feeds/publish", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}
