package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageDecodesNumericIDs(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"id": 42, "chat_session_id": 7, "sender_type": "bot", "content": "hi", "created_at": "2025-03-01T10:20:30.123456"}`), &msg)
	require.NoError(t, err)

	assert.Equal(t, MessageID("42"), msg.ID)
	assert.Equal(t, "7", msg.ChatSessionID)
	assert.Equal(t, SenderBot, msg.SenderType)
	assert.Equal(t, 10, msg.CreatedAt.Hour())
	assert.False(t, msg.ID.IsTemp())
}

func TestMessageImageShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ImageList
	}{
		{"array", `{"image": ["http://a/1.png", "http://a/2.png"]}`, ImageList{"http://a/1.png", "http://a/2.png"}},
		{"json string", `{"image": "[\"http://a/1.png\"]"}`, ImageList{"http://a/1.png"}},
		{"bare url", `{"image": "https://a/1.png"}`, ImageList{"https://a/1.png"}},
		{"garbage string", `{"image": "not an image"}`, nil},
		{"number", `{"image": 3}`, nil},
		{"null", `{"image": null}`, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tc.body), &msg))
			assert.Equal(t, tc.want, msg.Image)
		})
	}
}

func TestMessageIDMarshal(t *testing.T) {
	out, err := json.Marshal(struct {
		A MessageID `json:"a"`
		B MessageID `json:"b"`
	}{A: "12", B: "temp_1_x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 12, "b": "temp_1_x"}`, string(out))
	assert.True(t, MessageID("temp_1_x").IsTemp())
}

func TestMessageValid(t *testing.T) {
	assert.False(t, Message{}.Valid())
	assert.True(t, Message{Content: "x"}.Valid())
}

func TestSessionNumericID(t *testing.T) {
	var s Session
	require.NoError(t, json.Unmarshal([]byte(`{"id": 1001}`), &s))
	assert.Equal(t, "1001", s.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id": "abc"}`), &s))
	assert.Equal(t, "abc", s.ID)
}

func TestConversationFlexFields(t *testing.T) {
	var c Conversation
	require.NoError(t, json.Unmarshal([]byte(`{"session_id": 5, "status": false, "alert": "true", "tag_names": ["vip"]}`), &c))
	assert.Equal(t, "5", c.ID())
	assert.True(t, c.ManualMode())
	assert.True(t, c.Alert.Bool())
	assert.True(t, c.HasTag("vip"))
	assert.False(t, c.HasTag("cold"))
}

func TestNewTempID(t *testing.T) {
	id := NewTempID(time.Unix(0, 42))
	assert.True(t, strings.HasPrefix(string(id), "temp_42_"))
	assert.True(t, id.IsTemp())
	assert.NotEqual(t, id, NewTempID(time.Unix(0, 42)))
}
