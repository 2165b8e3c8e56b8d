package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/service/ai"
	chatService "github.com/zhouzirui/chatdesk/internal/service/chat"
	"github.com/zhouzirui/chatdesk/internal/service/realtime"
)

// wordModel streams its answer word by word.
type wordModel struct{ answer string }

func (m wordModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(m.answer, nil), nil
}

func (m wordModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var chunks []*schema.Message
	for _, w := range strings.SplitAfter(m.answer, " ") {
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (wordModel) BindTools([]*schema.ToolInfo) error { return nil }

type sseEvent struct {
	name string
	data string
}

func parseEvents(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}

func names(events []sseEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.name)
	}
	return out
}

func setup(t *testing.T, bot ai.Responder) (*chi.Mux, *chatService.Service) {
	t.Helper()
	chatSvc := chatService.NewService(chatService.WithKnowledge(chatService.SeedKnowledge()))
	m := metrics.New(prometheus.NewRegistry())
	dispatcher := realtime.NewDispatcher(chatSvc, realtime.NewHub(m), bot, m)

	r := chi.NewRouter()
	New(chatSvc, dispatcher).RegisterRoutes(r)
	return r, chatSvc
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func TestStreamEmitsDeltas(t *testing.T) {
	bot, err := ai.NewServiceWithModel(context.Background(), wordModel{answer: "Chúng tôi mở cửa lúc 8 giờ"}, "Mai")
	require.NoError(t, err)
	r, chatSvc := setup(t, bot)

	session, err := chatSvc.CreateSession(context.Background(), "")
	require.NoError(t, err)

	resp := get(r, "/stream/"+session.Key()+"?message="+url.QueryEscape("mấy giờ mở cửa?"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))

	events := parseEvents(resp.Body.String())
	got := names(events)
	require.GreaterOrEqual(t, len(got), 5)
	assert.Equal(t, "message", got[0])
	assert.Equal(t, "delta", got[1])
	assert.Equal(t, []string{"reply", "end"}, got[len(got)-2:])
	assert.Contains(t, events[0].data, "mấy giờ mở cửa?")
	assert.Contains(t, events[len(events)-2].data, "Chúng tôi mở cửa lúc 8 giờ")

	transcript, err := chatSvc.Transcript(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, chat.SenderBot, transcript[1].SenderType)
}

func TestStreamSilentWhenManual(t *testing.T) {
	r, chatSvc := setup(t, ai.Canned{})
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, "")
	require.NoError(t, err)
	_, err = chatSvc.Send(ctx, chatService.SendInput{
		SessionID:  session.ID,
		SenderType: chat.SenderAdmin,
		Content:    "em đây",
		SenderName: "Lan",
	})
	require.NoError(t, err)

	resp := get(r, "/stream/"+session.Key()+"?message=alo")
	require.Equal(t, http.StatusOK, resp.Code)

	events := parseEvents(resp.Body.String())
	assert.Equal(t, []string{"message", "end"}, names(events))
	assert.Contains(t, events[1].data, `"silent":true`)
}

func TestStreamValidation(t *testing.T) {
	r, _ := setup(t, ai.Canned{})

	assert.Equal(t, http.StatusBadRequest, get(r, "/stream/abc?message=hi").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/stream/1").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/stream/999?message=hi").Code)
}
