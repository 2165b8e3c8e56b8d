package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chatdesk/internal/api"
	"github.com/zhouzirui/chatdesk/internal/config"
	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/render"
	"github.com/zhouzirui/chatdesk/internal/session"
	"github.com/zhouzirui/chatdesk/internal/transport"
	"github.com/zhouzirui/chatdesk/internal/widget"
)

const helpText = `commands:
  /more     load older messages
  /status   show the connection state
  /help     show this help
  /quit     leave (the session is kept for next time)
anything else is sent as a message`

func main() {
	storeFlag := flag.String("session-store", "", "override CHAT_SESSION_STORE (memory, redis://..., or a bbolt file)")
	flag.Parse()
	defer glog.Flush()

	if err := godotenv.Load(); err != nil {
		glog.V(1).Infof("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("failed to load configuration: %v", err)
	}
	clientCfg := cfg.Client
	if *storeFlag != "" {
		clientCfg.SessionStore = *storeFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.OpenStore(clientCfg.SessionStore)
	if err != nil {
		glog.Exitf("failed to open session store %q: %v", clientCfg.SessionStore, err)
	}
	defer store.Close()

	m := metrics.Default()
	if clientCfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, clientCfg.MetricsAddr); err != nil {
				glog.Warningf("metrics server stopped: %v", err)
			}
		}()
	}

	out := render.New(os.Stdout, render.Options{BotName: clientCfg.BotName, Color: clientCfg.Color})
	backend := api.New(clientCfg.APIURL, api.WithTimeout(clientCfg.HTTPTimeout))

	var w *widget.Widget
	w, err = widget.New(backend, store, clientCfg.URLChannel, widget.Options{
		WSURL:          clientCfg.WSURL,
		HistoryLimit:   clientCfg.HistoryLimit,
		ReconnectDelay: clientCfg.ReconnectDelay,
		Metrics:        m,
		OnState: func(s transport.State) {
			out.Println(out.Status(s, w != nil && w.Waiting()))
		},
	})
	if err != nil {
		glog.Exitf("failed to create widget: %v", err)
	}

	follower := render.NewFollower(out)
	unsubscribe := w.View().Subscribe(follower.Observe)
	defer unsubscribe()

	out.Println(helpText)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		return repl(gctx, w, out, os.Stdin)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("widget stopped: %v", err)
	}
}

func repl(ctx context.Context, w *widget.Widget, out *render.Renderer, in io.Reader) error {
	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, w, out, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, w *widget.Widget, out *render.Renderer, line string) bool {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		out.Println(helpText)
	case "/status":
		out.Println(fmt.Sprintf("session %s  %s", w.SessionID(), out.Status(w.State(), w.Waiting())))
	case "/more":
		if !w.HasMore() {
			out.Println("no older messages")
			return false
		}
		loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		n, err := w.LoadOlder(loadCtx)
		cancel()
		if err != nil {
			out.Warnf("load older messages: %v", err)
			return false
		}
		out.Println(fmt.Sprintf("loaded %d older messages", n))
	default:
		if _, err := w.Send(line); err != nil {
			switch {
			case errors.Is(err, widget.ErrNotConnected):
				out.Warnf("not connected yet, message not sent")
			default:
				out.Errorf("send: %v", err)
			}
		}
	}
	return false
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
