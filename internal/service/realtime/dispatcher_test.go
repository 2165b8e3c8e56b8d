package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	chatservice "github.com/zhouzirui/chatdesk/internal/service/chat"
)

type stubBot struct {
	reply   string
	err     error
	calls   int
	history []chat.Message
	query   string
}

func (b *stubBot) Reply(_ context.Context, history []chat.Message, query string, _ []chat.KnowledgeResult) (string, error) {
	b.calls++
	b.history = history
	b.query = query
	return b.reply, b.err
}

type streamingBot struct {
	stubBot
	pieces []string
}

func (b *streamingBot) StreamReply(_ context.Context, _ []chat.Message, query string, _ []chat.KnowledgeResult) (*schema.StreamReader[*schema.Message], error) {
	b.query = query
	chunks := make([]*schema.Message, 0, len(b.pieces))
	for _, p := range b.pieces {
		chunks = append(chunks, schema.AssistantMessage(p, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func newDispatcher(t *testing.T, bot *stubBot) (*Dispatcher, *chatservice.Service, *metrics.Metrics, int) {
	t.Helper()
	store := chatservice.NewService(chatservice.WithKnowledge(chatservice.SeedKnowledge()))
	m := metrics.New(prometheus.NewRegistry())
	sess, err := store.CreateSession(context.Background(), "")
	require.NoError(t, err)

	// a nil *stubBot must stay a nil interface
	if bot == nil {
		return NewDispatcher(store, NewHub(m), nil, m), store, m, sess.ID
	}
	return NewDispatcher(store, NewHub(m), bot, m), store, m, sess.ID
}

func TestPostCustomerGetsBotReply(t *testing.T) {
	bot := &stubBot{reply: "Chào bạn!"}
	d, store, m, id := newDispatcher(t, bot)
	ctx := context.Background()

	events, err := d.Post(ctx, PostInput{SessionID: id, SenderType: chat.SenderCustomer, Content: "xin chào"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, chat.SenderCustomer, events[0].SenderType)
	assert.Equal(t, chat.SenderBot, events[1].SenderType)
	assert.Equal(t, "Chào bạn!", events[1].Content)
	assert.Equal(t, "xin chào", bot.query)
	assert.Empty(t, bot.history, "the question itself is not part of the history")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BotReplies.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CustomerTones.WithLabelValues("neutral")))

	transcript, err := store.Transcript(ctx, id)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}

func TestPostAdminSilencesBot(t *testing.T) {
	bot := &stubBot{reply: "auto"}
	d, _, m, id := newDispatcher(t, bot)
	ctx := context.Background()

	events, err := d.Post(ctx, PostInput{SessionID: id, SenderType: chat.SenderAdmin, Content: "em hỗ trợ ạ", AdminName: "Lan"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, chat.FlexString(chat.StatusManual), events[0].SessionStatus)
	assert.Equal(t, "Lan", events[0].CurrentReceiver)
	assert.NotEmpty(t, events[0].Time)

	events, err = d.Post(ctx, PostInput{SessionID: id, SenderType: chat.SenderCustomer, Content: "cảm ơn"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Zero(t, bot.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BotReplies.WithLabelValues("suppressed")))
}

func TestPostBotFailureKeepsCustomerMessage(t *testing.T) {
	bot := &stubBot{err: errors.New("model down")}
	d, _, m, id := newDispatcher(t, bot)

	events, err := d.Post(context.Background(), PostInput{SessionID: id, SenderType: chat.SenderCustomer, Content: "alo"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BotReplies.WithLabelValues("error")))
}

func TestPostRejectsUnknownSender(t *testing.T) {
	d, _, _, id := newDispatcher(t, nil)

	_, err := d.Post(context.Background(), PostInput{SessionID: id, SenderType: chat.SenderBot, Content: "x"})
	assert.ErrorIs(t, err, chatservice.ErrInvalidSender)

	_, err = d.Post(context.Background(), PostInput{SessionID: 999, SenderType: chat.SenderCustomer, Content: "x"})
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestCustomerMessageStoresContactInfo(t *testing.T) {
	bot := &stubBot{reply: "ok"}
	d, store, _, id := newDispatcher(t, bot)
	ctx := context.Background()

	ev, err := d.CustomerMessage(ctx, id, chat.OutgoingFrame{Content: "số của em là 0912 345 678"})
	require.NoError(t, err)
	assert.Equal(t, chat.SenderCustomer, ev.SenderType)
	d.Wait()

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0912345678", sess.CustomerData["phone"])
	assert.True(t, sess.Alert)
	assert.Equal(t, 1, bot.calls)
}

func TestEventFormatsSession(t *testing.T) {
	_, store, _, id := newDispatcher(t, nil)

	res, err := store.Send(context.Background(), chatservice.SendInput{SessionID: id, SenderType: chat.SenderCustomer, Content: "hi"})
	require.NoError(t, err)

	ev := Event(res)
	assert.Equal(t, chat.FlexString(res.Session.Key()), ev.ChatSessionID)
	assert.Equal(t, "web", ev.Platform)
	assert.Empty(t, ev.Time)
	assert.Equal(t, res.Message.ID, ev.ID)
	msg := ev.Message()
	assert.Equal(t, "hi", msg.Content)
	assert.True(t, msg.CreatedAt.Equal(res.Message.CreatedAt))
}

func TestStreamForwardsPieces(t *testing.T) {
	store := chatservice.NewService()
	m := metrics.New(prometheus.NewRegistry())
	sess, err := store.CreateSession(context.Background(), "")
	require.NoError(t, err)
	bot := &streamingBot{pieces: []string{"Chào ", "", "bạn", "! "}}
	d := NewDispatcher(store, NewHub(m), bot, m)

	var got []string
	var customer chat.AdminEvent
	reply, err := d.Stream(context.Background(), sess.ID, "alo",
		func(ev chat.AdminEvent) { customer = ev },
		func(p string) { got = append(got, p) })
	require.NoError(t, err)
	require.NotNil(t, reply)

	assert.Equal(t, "alo", customer.Content)
	assert.Equal(t, []string{"Chào ", "bạn", "! "}, got)
	assert.Equal(t, "Chào bạn!", reply.Content)
	assert.Equal(t, 0, bot.calls, "Reply is not used when streaming")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BotReplies.WithLabelValues("sent")))
}

func TestStreamFallsBackToReply(t *testing.T) {
	bot := &stubBot{reply: "Một câu trả lời"}
	d, _, _, id := newDispatcher(t, bot)

	var got []string
	reply, err := d.Stream(context.Background(), id, "hỏi", nil, func(p string) { got = append(got, p) })
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, []string{"Một câu trả lời"}, got)
	assert.Equal(t, 1, bot.calls)
}

func TestStreamSilentInManualMode(t *testing.T) {
	bot := &stubBot{reply: "auto"}
	d, _, _, id := newDispatcher(t, bot)
	ctx := context.Background()

	_, err := d.Post(ctx, PostInput{SessionID: id, SenderType: chat.SenderAdmin, Content: "để em", AdminName: "Lan"})
	require.NoError(t, err)

	reply, err := d.Stream(ctx, id, "ok", nil, func(string) { t.Fatal("no pieces expected") })
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, 0, bot.calls)
}
