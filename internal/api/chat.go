package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

// ErrEmptySessionID is returned when the backend answers a session call without an id.
var ErrEmptySessionID = errors.New("backend returned an empty session id")

// CreateSession opens a new conversation for the embedding page.
func (c *Client) CreateSession(ctx context.Context, urlChannel string) (chat.Session, error) {
	body := map[string]string{"url_channel": urlChannel}

	var session chat.Session
	if err := c.do(ctx, http.MethodPost, "/chat/session", nil, body, &session); err != nil {
		return chat.Session{}, err
	}
	if session.ID == "" {
		return chat.Session{}, ErrEmptySessionID
	}
	return session, nil
}

// CheckSession validates a previously stored session id.
func (c *Client) CheckSession(ctx context.Context, id, urlChannel string) (chat.Session, error) {
	query := url.Values{}
	if urlChannel != "" {
		query.Set("url_channel", urlChannel)
	}

	var session chat.Session
	if err := c.do(ctx, http.MethodGet, "/chat/session/"+url.PathEscape(id), query, nil, &session); err != nil {
		return chat.Session{}, err
	}
	if session.ID == "" {
		return chat.Session{}, ErrEmptySessionID
	}
	return session, nil
}

// History fetches one page of a conversation, oldest message first.
// Elements that do not decode as messages are skipped.
func (c *Client) History(ctx context.Context, sessionID string, page, limit int) ([]chat.Message, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/chat/history/"+url.PathEscape(sessionID), query, nil, &raw); err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(raw))
	for i, item := range raw {
		var msg chat.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			glog.Warningf("[api] skip malformed history entry %d of session %s: %v", i, sessionID, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Conversations lists every conversation for the dashboard sidebar.
func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/chat/admin/history", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CustomerFilter narrows the customer listing.
type CustomerFilter struct {
	Channel string
	TagID   int
}

// Customers lists customers that left contact data.
func (c *Client) Customers(ctx context.Context, filter CustomerFilter) ([]map[string]any, error) {
	query := url.Values{}
	if filter.Channel != "" {
		query.Set("channel", filter.Channel)
	}
	if filter.TagID > 0 {
		query.Set("tag_id", strconv.Itoa(filter.TagID))
	}

	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/chat/admin/customers", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DashboardSummary returns message counts grouped by channel.
func (c *Client) DashboardSummary(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/chat/admin/count_by_channel", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus switches a conversation between bot and manual handling.
func (c *Client) UpdateStatus(ctx context.Context, sessionID string, update chat.StatusUpdate) error {
	return c.do(ctx, http.MethodPatch, "/chat/"+url.PathEscape(sessionID), nil, update, nil)
}

// UpdateSessionTags replaces the tag set of a conversation.
func (c *Client) UpdateSessionTags(ctx context.Context, sessionID string, tagIDs []int) error {
	if tagIDs == nil {
		tagIDs = []int{}
	}
	body := map[string][]int{"tags": tagIDs}
	return c.do(ctx, http.MethodPatch, "/chat/tag/"+url.PathEscape(sessionID), nil, body, nil)
}

// UpdateAlert sets or clears the customer-info alert of a conversation.
func (c *Client) UpdateAlert(ctx context.Context, sessionID string, alert bool) error {
	body := map[string]string{"alert": strconv.FormatBool(alert)}
	return c.do(ctx, http.MethodPut, "/chat/alert/"+url.PathEscape(sessionID), nil, body, nil)
}

// DeleteMessages removes messages from a conversation.
func (c *Client) DeleteMessages(ctx context.Context, sessionID string, ids []chat.MessageID) (chat.DeleteResult, error) {
	body := map[string][]chat.MessageID{"ids": ids}

	var out chat.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/chat/messages/"+url.PathEscape(sessionID), nil, body, &out); err != nil {
		return chat.DeleteResult{}, err
	}
	return out, nil
}

// DeleteSessions removes whole conversations.
func (c *Client) DeleteSessions(ctx context.Context, ids []string) error {
	numeric := make([]any, 0, len(ids))
	for _, id := range ids {
		if n, err := strconv.Atoi(id); err == nil {
			numeric = append(numeric, n)
		} else {
			numeric = append(numeric, id)
		}
	}
	body := map[string][]any{"ids": numeric}
	return c.do(ctx, http.MethodDelete, "/chat/chat_sessions", nil, body, nil)
}

// SendRequest is an admin reply posted over REST.
type SendRequest struct {
	ChatSessionID string          `json:"chat_session_id"`
	SenderType    chat.SenderType `json:"sender_type"`
	Content       string          `json:"content"`
	IsAdmin       bool            `json:"is_admin"`
	Image         []string        `json:"image"`
}

// SendMessage posts a message and returns what the backend stored.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) ([]chat.Message, error) {
	if req.Image == nil {
		req.Image = []string{}
	}

	var out struct {
		Status string         `json:"status"`
		Data   []chat.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat/send_message", nil, req, &out); err != nil {
		return nil, err
	}
	if out.Status != "" && out.Status != "success" {
		return nil, fmt.Errorf("send message: backend status %q", out.Status)
	}
	return out.Data, nil
}
