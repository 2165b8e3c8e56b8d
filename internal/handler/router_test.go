package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/chatdesk/internal/metrics"
	chatService "github.com/zhouzirui/chatdesk/internal/service/chat"
	"github.com/zhouzirui/chatdesk/internal/service/realtime"
)

func newTestRouter(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	chatSvc := chatService.NewService()
	hub := realtime.NewHub(m)

	return NewRouter(ctx, Deps{
		Chat:       chatSvc,
		Dispatcher: realtime.NewDispatcher(chatSvc, hub, nil, m),
		Hub:        hub,
		Metrics:    m,
		Gatherer:   reg,
	}), m
}

func TestRouterServesChatAndTags(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/chat/session", http.StatusOK},
		{http.MethodGet, "/chat/admin/history", http.StatusOK},
		{http.MethodGet, "/tags/", http.StatusOK},
		{http.MethodGet, "/knowledge-base/search?query=x", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/chat/stream/1?message=hi", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, resp.Code)
		}
	}
}

func TestRouterExposesMetrics(t *testing.T) {
	r, m := newTestRouter(t)
	m.BotReplies.WithLabelValues("sent").Inc()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `chatdesk_bot_replies_total{outcome="sent"} 1`) {
		t.Fatalf("bot replies counter missing from %q", resp.Body.String())
	}
}

func TestRouterPreflight(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/chat/send_message", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
