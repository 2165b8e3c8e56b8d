package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/chatdesk/internal/handler/chat"
	"github.com/zhouzirui/chatdesk/internal/handler/stream"
	"github.com/zhouzirui/chatdesk/internal/handler/tags"
	"github.com/zhouzirui/chatdesk/internal/metrics"
	middlewarePkg "github.com/zhouzirui/chatdesk/internal/middleware"
	chatService "github.com/zhouzirui/chatdesk/internal/service/chat"
	"github.com/zhouzirui/chatdesk/internal/service/realtime"
	"github.com/zhouzirui/chatdesk/pkg/utils"
)

const (
	requestsPerMinute = 600
)

// Deps are the services the routes are wired to.
type Deps struct {
	Chat       *chatService.Service
	Dispatcher *realtime.Dispatcher
	Hub        *realtime.Hub
	Auth       *middlewarePkg.JWTAuth
	Metrics    *metrics.Metrics
	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(middlewarePkg.NewRateLimiter(ctx, requestsPerMinute, time.Minute).Middleware)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		customers, admins := deps.Hub.Counts()
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"customers": customers,
			"admins":    admins,
		})
	})

	chatHandler := chat.New(deps.Chat, deps.Dispatcher, deps.Hub, deps.Auth, deps.Metrics)
	streamHandler := stream.New(deps.Chat, deps.Dispatcher)
	r.Route("/chat", func(r chi.Router) {
		chatHandler.RegisterRoutes(r)
		streamHandler.RegisterRoutes(r)
	})

	tags.New(deps.Chat, deps.Auth).RegisterRoutes(r)

	return r
}
