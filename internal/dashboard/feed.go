package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/chatdesk/internal/api"
	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/transport"
)

// ErrTokenExpired is returned by CheckToken for an expired access token.
var ErrTokenExpired = errors.New("access token expired")

// FeedConfig describes the admin socket.
type FeedConfig struct {
	WSURL          string
	AccessToken    string
	ReconnectDelay time.Duration
	Metrics        *metrics.Metrics
	OnState        func(transport.State)
}

// NewFeed builds the admin socket manager feeding this console. Run it
// with the returned manager's Run.
func (c *Console) NewFeed(cfg FeedConfig) (*transport.Manager, error) {
	target := strings.TrimRight(cfg.WSURL, "/") + "/chat/ws/admin"
	return transport.NewManager(transport.Config{
		Role:           "admin",
		Target:         transport.StaticTarget(target, transport.CookieHeader(api.AccessTokenCookie, cfg.AccessToken)),
		ReconnectDelay: cfg.ReconnectDelay,
		OnFrame:        c.HandleFrame,
		OnState:        cfg.OnState,
		Metrics:        cfg.Metrics,
	})
}

// RunFeed follows the admin socket until ctx is cancelled.
func (c *Console) RunFeed(ctx context.Context, cfg FeedConfig) error {
	feed, err := c.NewFeed(cfg)
	if err != nil {
		return err
	}
	return feed.Run(ctx)
}

// CheckToken inspects the access token's exp claim without verifying the
// signature; the backend does that. Tokens without exp are accepted.
func CheckToken(token string, now time.Time) (time.Time, error) {
	if token == "" {
		return time.Time{}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	if now.After(exp.Time) {
		return exp.Time, ErrTokenExpired
	}
	return exp.Time, nil
}
