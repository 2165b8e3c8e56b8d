package dashboard

import (
	"encoding/json"
	"time"

	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

const (
	defaultCustomerName = "Khách hàng mới"
	defaultPlatform     = "web"
)

// HandleFrame decodes an admin feed frame and applies it. Undecodable
// frames are logged and skipped.
func (c *Console) HandleFrame(raw json.RawMessage) {
	var ev chat.AdminEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		glog.Warningf("[dashboard] skip undecodable feed frame: %v", err)
		return
	}
	c.ApplyEvent(ev)
}

// ApplyEvent folds one admin feed event into the console state.
func (c *Console) ApplyEvent(ev chat.AdminEvent) {
	id := string(ev.ChatSessionID)
	if id == "" {
		return
	}

	if c.onEvent != nil {
		defer c.onEvent(ev)
	}

	if ev.Type == chat.AdminEventCustomerInfo {
		c.applyCustomerInfo(id, ev)
		return
	}

	stamp := c.now().Format(time.RFC3339Nano)

	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx >= 0 {
		conv := &c.conversations[idx]
		if ev.CustomerData != nil && ev.Content == "" {
			conv.CustomerData = ev.CustomerData
		} else {
			if ev.Content != "" {
				conv.Content = ev.Content
			}
			if ev.SenderType != "" {
				conv.SenderType = ev.SenderType
			}
			conv.CreatedAt = stamp
			conv.Status = ev.SessionStatus
			conv.CurrentReceiver = ev.CurrentReceiver
			conv.PreviousReceiver = ev.PreviousReceiver
			conv.Time = ev.Time
			conv.Image = ev.Image
		}
	} else {
		platform := ev.Platform
		if platform == "" {
			platform = defaultPlatform
		}
		c.conversations = append([]chat.Conversation{{
			SessionID:  ev.ChatSessionID,
			Content:    ev.Content,
			SenderType: ev.SenderType,
			CreatedAt:  stamp,
			Name:       ev.SessionName,
			Status:     ev.SessionStatus,
			Platform:   platform,
		}}, c.conversations...)
	}
	sortNewestFirst(c.conversations)
	selected := c.selected
	c.mu.Unlock()

	if ev.Content != "" && id == selected {
		c.list.AppendLive(ev.Message())
	}
}

func (c *Console) applyCustomerInfo(id string, ev chat.AdminEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alerts[id] = struct{}{}

	if idx := c.indexLocked(id); idx >= 0 {
		c.conversations[idx].CustomerData = ev.CustomerData
		c.conversations[idx].Alert = "true"
		return
	}

	name := ev.SessionName
	if name == "" {
		name = defaultCustomerName
	}
	platform := ev.Platform
	if platform == "" {
		platform = defaultPlatform
	}
	c.conversations = append([]chat.Conversation{{
		SessionID:    ev.ChatSessionID,
		CustomerData: ev.CustomerData,
		Alert:        "true",
		CreatedAt:    c.now().Format(time.RFC3339Nano),
		Name:         name,
		Status:       chat.StatusManual,
		Platform:     platform,
	}}, c.conversations...)
}
