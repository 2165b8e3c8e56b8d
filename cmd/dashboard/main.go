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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chatdesk/internal/api"
	"github.com/zhouzirui/chatdesk/internal/config"
	"github.com/zhouzirui/chatdesk/internal/dashboard"
	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/render"
	"github.com/zhouzirui/chatdesk/internal/transport"
)

const helpText = `commands:
  /list                 conversations, newest first (! = new customer info)
  /open <id>            open a conversation
  /more                 load older messages of the open conversation
  /image <path> [text]  send an image with an optional caption
  /delete <msg-id...>   delete messages of the open conversation
  /drop <id...>         delete whole conversations
  /tags                 list tags
  /tag <name|id>        toggle a tag on the open conversation
  /mode <option>        bot | 1-hour | 4-hour | 8am-tomorrow | manual-only
  /seen                 clear the customer info alert of the open conversation
  /info                 show customer info of the open conversation
  /search <query>       search the knowledge base
  /refresh              reload conversations and tags
  /quit
anything else is sent to the open conversation`

const requestTimeout = 15 * time.Second

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := godotenv.Load(); err != nil {
		glog.V(1).Infof("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("failed to load configuration: %v", err)
	}

	out := render.New(os.Stdout, render.Options{BotName: cfg.Client.BotName, Color: cfg.Client.Color})

	if exp, err := dashboard.CheckToken(cfg.Admin.AccessToken, time.Now()); err != nil {
		if errors.Is(err, dashboard.ErrTokenExpired) {
			glog.Exitf("CHAT_ACCESS_TOKEN expired at %s, log in again", exp.Format(time.RFC3339))
		}
		glog.Exitf("CHAT_ACCESS_TOKEN is unusable: %v", err)
	} else if !exp.IsZero() && time.Until(exp) < time.Hour {
		out.Warnf("access token expires at %s", exp.Format("15:04"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()
	if cfg.Client.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Client.MetricsAddr); err != nil {
				glog.Warningf("metrics server stopped: %v", err)
			}
		}()
	}

	backend := api.New(cfg.Client.APIURL,
		api.WithTimeout(cfg.Client.HTTPTimeout),
		api.WithAccessToken(cfg.Admin.AccessToken))

	var console *dashboard.Console
	console, err = dashboard.NewConsole(backend, dashboard.Options{
		PageSize: cfg.Admin.PageSize,
		OnEvent: func(ev chat.AdminEvent) {
			announce(out, console, ev)
		},
	})
	if err != nil {
		glog.Exitf("failed to create console: %v", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	err = console.Refresh(loadCtx)
	cancel()
	if err != nil {
		glog.Exitf("failed to load conversations: %v", err)
	}

	follower := render.NewFollower(out)
	unsubscribe := console.View().Subscribe(follower.Observe)
	defer unsubscribe()

	out.Println(helpText)
	printList(out, console)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return console.RunFeed(gctx, dashboard.FeedConfig{
			WSURL:          cfg.Client.WSURL,
			AccessToken:    cfg.Admin.AccessToken,
			ReconnectDelay: cfg.Client.ReconnectDelay,
			Metrics:        m,
			OnState: func(s transport.State) {
				out.Println(out.Status(s, false))
			},
		})
	})
	g.Go(func() error {
		defer stop()
		return repl(gctx, console, out, os.Stdin)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("dashboard stopped: %v", err)
	}
}

// announce reports feed activity outside the open conversation.
func announce(out *render.Renderer, console *dashboard.Console, ev chat.AdminEvent) {
	id := string(ev.ChatSessionID)
	if console == nil || id == console.Selected() {
		return
	}
	conv, ok := console.Conversation(id)
	if !ok {
		return
	}
	if ev.Type == chat.AdminEventCustomerInfo {
		out.Warnf("new customer info in #%s (%s)", id, conv.Name)
		return
	}
	out.Println(out.Conversation(conv, console.HasAlert(id), false))
}

func repl(ctx context.Context, console *dashboard.Console, out *render.Renderer, in io.Reader) error {
	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "/quit" || line == "/exit" {
				return nil
			}
			if line == "" {
				continue
			}

			cmdCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			if err := runCommand(cmdCtx, console, out, line); err != nil {
				out.Errorf("%v", err)
			}
			cancel()
		}
	}
}

func runCommand(ctx context.Context, console *dashboard.Console, out *render.Renderer, line string) error {
	if !strings.HasPrefix(line, "/") {
		_, err := console.Send(ctx, line, nil)
		return err
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch name {
	case "/help":
		out.Println(helpText)
	case "/list", "/ls":
		printList(out, console)
	case "/refresh":
		if err := console.Refresh(ctx); err != nil {
			return err
		}
		printList(out, console)
	case "/open":
		if len(args) != 1 {
			return errors.New("usage: /open <id>")
		}
		return console.Select(ctx, args[0])
	case "/more":
		if !console.HasMore() {
			out.Println("no older messages")
			return nil
		}
		n, err := console.LoadOlder(ctx)
		if err != nil {
			return err
		}
		out.Println(fmt.Sprintf("loaded %d older messages", n))
	case "/image":
		if len(args) == 0 {
			return errors.New("usage: /image <path> [text]")
		}
		img, err := dashboard.LoadImage(args[0])
		if err != nil {
			return err
		}
		caption := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		_, err = console.Send(ctx, caption, []string{img})
		return err
	case "/delete":
		if len(args) == 0 {
			return errors.New("usage: /delete <msg-id...>")
		}
		ids := make([]chat.MessageID, 0, len(args))
		for _, a := range args {
			ids = append(ids, chat.MessageID(a))
		}
		n, err := console.DeleteMessages(ctx, ids)
		if err != nil {
			return err
		}
		out.Println(fmt.Sprintf("deleted %d messages", n))
	case "/drop":
		if len(args) == 0 {
			return errors.New("usage: /drop <id...>")
		}
		if err := console.DeleteConversations(ctx, args); err != nil {
			return err
		}
		printList(out, console)
	case "/tags":
		for _, tag := range console.Tags() {
			out.Println(fmt.Sprintf("  %d  %s", tag.ID, tag.Name))
		}
	case "/tag":
		tag, err := findTag(console.Tags(), rest)
		if err != nil {
			return err
		}
		sessionID, err := selected(console)
		if err != nil {
			return err
		}
		return console.ToggleTag(ctx, sessionID, tag)
	case "/mode":
		if len(args) != 1 {
			return fmt.Errorf("usage: /mode <%s>", strings.Join(dashboard.ModeOptions, "|"))
		}
		sessionID, err := selected(console)
		if err != nil {
			return err
		}
		update, err := console.SetMode(ctx, sessionID, args[0], time.Now())
		if err != nil {
			return err
		}
		switch {
		case update.Status == chat.StatusBot:
			out.Println("bot answers again")
		case update.Time == "":
			out.Println("manual until switched back")
		default:
			out.Println("manual until " + update.Time)
		}
	case "/seen":
		sessionID, err := selected(console)
		if err != nil {
			return err
		}
		return console.ClearAlert(ctx, sessionID)
	case "/info":
		sessionID, err := selected(console)
		if err != nil {
			return err
		}
		conv, _ := console.Conversation(sessionID)
		if len(conv.CustomerData) == 0 {
			out.Println("no customer info yet")
			return nil
		}
		for k, v := range conv.CustomerData {
			out.Println(fmt.Sprintf("  %s: %v", k, v))
		}
	case "/search":
		hits, err := console.Search(ctx, rest)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			out.Println("no results")
		}
		for _, hit := range hits {
			out.Println(fmt.Sprintf("  %s: %s", hit.Title, hit.Content))
		}
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
	return nil
}

func printList(out *render.Renderer, console *dashboard.Console) {
	convs := console.Conversations()
	if len(convs) == 0 {
		out.Println("no conversations yet")
		return
	}
	current := console.Selected()
	for _, conv := range convs {
		out.Println(out.Conversation(conv, console.HasAlert(conv.ID()), conv.ID() == current))
	}
}

func selected(console *dashboard.Console) (string, error) {
	id := console.Selected()
	if id == "" {
		return "", dashboard.ErrNoSelection
	}
	return id, nil
}

func findTag(tags []chat.Tag, query string) (chat.Tag, error) {
	if query == "" {
		return chat.Tag{}, errors.New("usage: /tag <name|id>")
	}
	id, idErr := strconv.Atoi(query)
	for _, tag := range tags {
		if (idErr == nil && tag.ID == id) || strings.EqualFold(tag.Name, query) {
			return tag, nil
		}
	}
	return chat.Tag{}, fmt.Errorf("no tag %q", query)
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
