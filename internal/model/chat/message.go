package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderBot      SenderType = "bot"
	SenderAdmin    SenderType = "admin"
)

// TempIDPrefix marks ids generated locally for optimistic display.
const TempIDPrefix = "temp_"

// MessageID is a message identity. The backend sends integers, the client
// generates string ids for unconfirmed messages, so both decode into a string.
type MessageID string

// UnmarshalJSON accepts a JSON number, string or null.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = MessageID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers so the backend gets back what it sent.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// NewTempID returns an id for an optimistic message: temp_<unix-nanos>_<uuid>.
func NewTempID(now time.Time) MessageID {
	return MessageID(fmt.Sprintf("%s%d_%s", TempIDPrefix, now.UnixNano(), uuid.NewString()))
}

// IsTemp reports whether the id was generated locally.
func (id MessageID) IsTemp() bool {
	return strings.HasPrefix(string(id), TempIDPrefix)
}

// ImageList holds attachment URLs (or data URLs). The backend is loose about
// the wire shape: an array, a JSON-encoded array inside a string, or a single URL.
type ImageList []string

// UnmarshalJSON never fails on shape mismatches; unknown shapes decode to an empty list.
func (l *ImageList) UnmarshalJSON(data []byte) error {
	*l = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err == nil {
			*l = items
		}
	case '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		*l = ParseImageString(raw)
	}
	return nil
}

// ParseImageString decodes the string form of the image field.
func ParseImageString(raw string) ImageList {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		return items
	}
	if strings.HasPrefix(raw, "http") {
		return ImageList{raw}
	}
	return nil
}

// Message is a single chat turn as exchanged with the backend.
type Message struct {
	ID            MessageID  `json:"id,omitempty"`
	ChatSessionID string     `json:"chat_session_id,omitempty"`
	SenderType    SenderType `json:"sender_type"`
	Content       string     `json:"content"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
	Image         ImageList  `json:"image,omitempty"`
}

// Valid reports whether the message can be displayed.
func (m Message) Valid() bool {
	return m.Content != ""
}

// UnmarshalJSON tolerates numeric session ids and backend timestamps without zone.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            MessageID       `json:"id"`
		ChatSessionID json.RawMessage `json:"chat_session_id"`
		SenderType    SenderType      `json:"sender_type"`
		Content       string          `json:"content"`
		CreatedAt     string          `json:"created_at"`
		Image         ImageList       `json:"image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ID = raw.ID
	m.ChatSessionID = rawID(raw.ChatSessionID)
	m.SenderType = raw.SenderType
	m.Content = raw.Content
	m.CreatedAt = ParseTime(raw.CreatedAt)
	m.Image = raw.Image
	return nil
}

// OutgoingFrame is what a client writes on the chat socket.
type OutgoingFrame struct {
	ChatSessionID string     `json:"chat_session_id"`
	SenderType    SenderType `json:"sender_type"`
	Content       string     `json:"content"`
	Image         []string   `json:"image,omitempty"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses the timestamp formats the backend emits. Unparseable
// values yield the zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// rawID turns a JSON number or string into its string form.
func rawID(data json.RawMessage) string {
	var id MessageID
	if err := id.UnmarshalJSON(data); err != nil {
		return ""
	}
	return string(id)
}
