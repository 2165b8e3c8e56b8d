package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/transport"
)

func newPlain(buf *bytes.Buffer) *Renderer {
	return New(buf, Options{BotName: "Trợ lý", Location: time.UTC})
}

func TestFormat(t *testing.T) {
	r := newPlain(&bytes.Buffer{})
	at := time.Date(2024, 5, 1, 9, 7, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  chat.Message
		want string
	}{
		{
			name: "customer",
			msg:  chat.Message{ID: "1", SenderType: chat.SenderCustomer, Content: "xin chào", CreatedAt: at},
			want: "[09:07] Bạn: xin chào",
		},
		{
			name: "bot without time",
			msg:  chat.Message{SenderType: chat.SenderBot, Content: "hello"},
			want: "[now] Trợ lý: hello",
		},
		{
			name: "admin with image",
			msg:  chat.Message{ID: "3", SenderType: chat.SenderAdmin, CreatedAt: at, Image: chat.ImageList{"https://cdn/x.png"}},
			want: "[09:07] Nhân viên:\n    image: https://cdn/x.png",
		},
		{
			name: "pending",
			msg:  chat.Message{ID: chat.NewTempID(at), SenderType: chat.SenderCustomer, Content: "hi", CreatedAt: at},
			want: "[09:07] Bạn: hi (sending)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Format(tt.msg))
		})
	}
}

func TestFormatShortensDataURL(t *testing.T) {
	r := newPlain(&bytes.Buffer{})
	msg := chat.Message{SenderType: chat.SenderAdmin, Image: chat.ImageList{"data:image/png;base64,QUJD"}}
	assert.Contains(t, r.Format(msg), "image: data:image/png;base64,… (4 bytes)")
}

func TestStatus(t *testing.T) {
	r := newPlain(&bytes.Buffer{})
	assert.Equal(t, "● connected", r.Status(transport.StateConnected, false))
	assert.Equal(t, "● connected  Trợ lý is typing…", r.Status(transport.StateConnected, true))
	assert.Contains(t, r.Status(transport.StateDisconnected, false), "disconnected")
}

func TestConversationRow(t *testing.T) {
	r := newPlain(&bytes.Buffer{})
	conv := chat.Conversation{
		SessionID: "12",
		Name:      "Lan",
		Platform:  "web",
		Status:    chat.StatusManual,
		Time:      "2024-05-01T21:30:00",
		TagNames:  []string{"vip"},
		Content:   strings.Repeat("a", 80),
	}

	row := r.Conversation(conv, true, true)
	assert.True(t, strings.HasPrefix(row, "> #12 Lan [web] manual until 2024-05-01T21:30:00 {vip} !: "))
	assert.Equal(t, 60, len([]rune(row[strings.LastIndex(row, ": ")+2:])))
}

func TestFollowerPrintsOnlyNewMessages(t *testing.T) {
	var buf bytes.Buffer
	f := NewFollower(newPlain(&buf))

	a := chat.Message{ID: "1", SenderType: chat.SenderCustomer, Content: "a"}
	b := chat.Message{ID: "2", SenderType: chat.SenderBot, Content: "b"}

	f.Observe([]chat.Message{a})
	f.Observe([]chat.Message{a, b})
	assert.Equal(t, "[now] Bạn: a\n[now] Trợ lý: b\n", buf.String())

	// a reset prints everything again
	buf.Reset()
	f.Observe(nil)
	f.Observe([]chat.Message{a})
	assert.Equal(t, "[now] Bạn: a\n", buf.String())
}

func TestFollowerSkipsConfirmedTemp(t *testing.T) {
	var buf bytes.Buffer
	f := NewFollower(newPlain(&buf))

	temp := chat.Message{ID: "temp_1_x", SenderType: chat.SenderAdmin, Content: "ok"}
	f.Observe([]chat.Message{temp})

	confirmed := temp
	confirmed.ID = "55"
	f.Observe([]chat.Message{confirmed})

	assert.Equal(t, 1, strings.Count(buf.String(), "ok"))
	assert.Contains(t, buf.String(), "(sending)")
}
