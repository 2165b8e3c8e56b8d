package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/chatdesk/internal/config"
	"github.com/zhouzirui/chatdesk/internal/handler"
	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/middleware"
	"github.com/zhouzirui/chatdesk/internal/service/ai"
	"github.com/zhouzirui/chatdesk/internal/service/chat"
	"github.com/zhouzirui/chatdesk/internal/service/realtime"
)

func main() {
	printToken := flag.String("print-token", "", "print an admin token for `name` signed with DEV_JWT_SECRET and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed token")
	botName := flag.String("bot-name", "Bot", "name the bot introduces itself with")
	flag.Parse()
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		glog.Warningf("failed to load .env file: %v", err)
		glog.Info("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("failed to load configuration: %v", err)
	}

	auth := middleware.NewJWTAuth(cfg.Server.JWTSecret)
	if *printToken != "" {
		if !auth.Enabled() {
			glog.Exit("DEV_JWT_SECRET is not set, admin routes are open and need no token")
		}
		token, err := auth.GenerateToken(*printToken, *tokenTTL)
		if err != nil {
			glog.Exitf("failed to sign token: %v", err)
		}
		fmt.Println(token)
		return
	}

	chatService := chat.NewService(chat.WithKnowledge(chat.SeedKnowledge()))
	if err := chat.SeedTags(ctx, chatService); err != nil {
		glog.Exitf("failed to seed tags: %v", err)
	}

	var bot ai.Responder = ai.Canned{}
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, *botName)
		if err != nil {
			glog.Warningf("failed to initialize AI service: %v", err)
			glog.Info("continuing with knowledge-base answers only")
		} else {
			bot = aiService
			glog.Info("AI service initialized successfully")
		}
	} else {
		glog.Info("Ark credentials not configured, the bot answers from the knowledge base")
	}
	if auth.Enabled() {
		glog.Info("admin routes require an access_token signed with DEV_JWT_SECRET")
	}

	m := metrics.Default()
	hub := realtime.NewHub(m)
	dispatcher := realtime.NewDispatcher(chatService, hub, bot, m)

	router := handler.NewRouter(ctx, handler.Deps{
		Chat:       chatService,
		Dispatcher: dispatcher,
		Hub:        hub,
		Auth:       auth,
		Metrics:    m,
		Gatherer:   prometheus.DefaultGatherer,
	})

	startServer(ctx, cfg.Server, router)

	hub.CloseAll()
	dispatcher.Wait()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	glog.Infof("chatdesk dev server listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		glog.Exitf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
