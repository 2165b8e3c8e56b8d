package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

// Tags lists the tag catalogue.
func (c *Client) Tags(ctx context.Context) ([]chat.Tag, error) {
	var out []chat.Tag
	if err := c.do(ctx, http.MethodGet, "/tags/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tag fetches a single tag.
func (c *Client) Tag(ctx context.Context, id int) (chat.Tag, error) {
	var out chat.Tag
	if err := c.do(ctx, http.MethodGet, "/tags/"+strconv.Itoa(id), nil, nil, &out); err != nil {
		return chat.Tag{}, err
	}
	return out, nil
}

// CreateTag adds a tag to the catalogue.
func (c *Client) CreateTag(ctx context.Context, tag chat.Tag) (chat.Tag, error) {
	var out chat.Tag
	if err := c.do(ctx, http.MethodPost, "/tags/", nil, tag, &out); err != nil {
		return chat.Tag{}, err
	}
	return out, nil
}

// UpdateTag renames or recolours a tag.
func (c *Client) UpdateTag(ctx context.Context, tag chat.Tag) (chat.Tag, error) {
	var out chat.Tag
	if err := c.do(ctx, http.MethodPut, "/tags/"+strconv.Itoa(tag.ID), nil, tag, &out); err != nil {
		return chat.Tag{}, err
	}
	return out, nil
}

// DeleteTag removes a tag from the catalogue.
func (c *Client) DeleteTag(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, "/tags/"+strconv.Itoa(id), nil, nil, nil)
}

// SessionTags lists the tags attached to a conversation.
func (c *Client) SessionTags(ctx context.Context, sessionID string) ([]chat.Tag, error) {
	var out []chat.Tag
	if err := c.do(ctx, http.MethodGet, "/tags/chat_session/"+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchKnowledge queries the knowledge base.
func (c *Client) SearchKnowledge(ctx context.Context, query string) ([]chat.KnowledgeResult, error) {
	params := url.Values{}
	params.Set("query", query)

	var out []chat.KnowledgeResult
	if err := c.do(ctx, http.MethodGet, "/knowledge-base/search", params, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
