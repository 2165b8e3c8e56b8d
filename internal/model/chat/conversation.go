package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// FlexString decodes JSON strings, numbers and booleans into their string
// form. The backend is inconsistent about ids and flag types.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*f = FlexString(data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = FlexString(n.String())
	}
	return nil
}

// Bool interprets the value as a boolean flag ("true"/"false").
func (f FlexString) Bool() bool {
	v, _ := strconv.ParseBool(string(f))
	return v
}

// Conversation status values. Status "true" means the bot answers, "false"
// means an administrator handles the session manually.
const (
	StatusBot    = "true"
	StatusManual = "false"
)

// Conversation is one row of the admin dashboard.
type Conversation struct {
	SessionID        FlexString     `json:"session_id"`
	Name             string         `json:"name,omitempty"`
	Status           FlexString     `json:"status,omitempty"`
	TagIDs           []int          `json:"tag_ids,omitempty"`
	TagNames         []string       `json:"tag_names,omitempty"`
	CustomerData     map[string]any `json:"customer_data,omitempty"`
	Alert            FlexString     `json:"alert,omitempty"`
	Platform         string         `json:"platform,omitempty"`
	Content          string         `json:"content,omitempty"`
	SenderType       SenderType     `json:"sender_type,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
	Time             string         `json:"time,omitempty"`
	CurrentReceiver  string         `json:"current_receiver,omitempty"`
	PreviousReceiver string         `json:"previous_receiver,omitempty"`
	Image            ImageList      `json:"image,omitempty"`
}

// ID returns the session id as a string.
func (c Conversation) ID() string {
	return string(c.SessionID)
}

// LastActivity is the parsed created_at used to order the conversation list.
func (c Conversation) LastActivity() time.Time {
	return ParseTime(c.CreatedAt)
}

// ManualMode reports whether the bot is switched off for the conversation.
func (c Conversation) ManualMode() bool {
	return string(c.Status) == StatusManual
}

// HasTag reports whether the conversation carries the tag name.
func (c Conversation) HasTag(name string) bool {
	for _, n := range c.TagNames {
		if n == name {
			return true
		}
	}
	return false
}

// Tag labels conversations in the dashboard.
type Tag struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// StatusUpdate switches a session between bot and manual handling.
type StatusUpdate struct {
	Status string `json:"status"`
	Time   string `json:"time,omitempty"`
}

// AdminEventCustomerInfo is the admin feed event raised when a customer
// leaves contact details.
const AdminEventCustomerInfo = "customer_info_update"

// AdminEvent is a frame on the admin socket.
type AdminEvent struct {
	Type             string         `json:"type,omitempty"`
	ID               MessageID      `json:"id,omitempty"`
	ChatSessionID    FlexString     `json:"chat_session_id"`
	Content          string         `json:"content,omitempty"`
	SenderType       SenderType     `json:"sender_type,omitempty"`
	SessionStatus    FlexString     `json:"session_status,omitempty"`
	SessionName      string         `json:"session_name,omitempty"`
	Platform         string         `json:"platform,omitempty"`
	CurrentReceiver  string         `json:"current_receiver,omitempty"`
	PreviousReceiver string         `json:"previous_receiver,omitempty"`
	Time             string         `json:"time,omitempty"`
	Image            ImageList      `json:"image,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
	CustomerData     map[string]any `json:"customer_data,omitempty"`
}

// Message converts a feed event carrying content into a view message.
func (e AdminEvent) Message() Message {
	return Message{
		ID:            e.ID,
		ChatSessionID: string(e.ChatSessionID),
		SenderType:    e.SenderType,
		Content:       e.Content,
		CreatedAt:     ParseTime(e.CreatedAt),
		Image:         e.Image,
	}
}

// KnowledgeResult is one knowledge-base search hit.
type KnowledgeResult struct {
	ID       FlexString     `json:"id,omitempty"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DeleteResult is returned by the message deletion endpoint.
type DeleteResult struct {
	Deleted int         `json:"deleted"`
	IDs     []MessageID `json:"ids"`
}
