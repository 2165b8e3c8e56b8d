package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/analysis/tone"
	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/service/ai"
	chatservice "github.com/zhouzirui/chatdesk/internal/service/chat"
)

const (
	replyTimeout   = 30 * time.Second
	knowledgeLimit = 3
)

// Dispatcher stores incoming messages, fans them out through the hub and
// lets the bot answer when the session is not in manual mode.
type Dispatcher struct {
	store   *chatservice.Service
	hub     *Hub
	bot     ai.Responder
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// NewDispatcher wires the pieces together. bot may be nil to never answer.
func NewDispatcher(store *chatservice.Service, hub *Hub, bot ai.Responder, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: store, hub: hub, bot: bot, metrics: m}
}

// Event is the frame describing a stored message and its session.
func Event(res chatservice.SendResult) chat.AdminEvent {
	ev := chat.AdminEvent{
		ID:               res.Message.ID,
		ChatSessionID:    chat.FlexString(res.Session.Key()),
		Content:          res.Message.Content,
		SenderType:       res.Message.SenderType,
		SessionStatus:    chat.FlexString(res.Session.Status),
		SessionName:      res.Session.Name,
		Platform:         res.Session.Channel,
		CurrentReceiver:  res.Session.CurrentReceiver,
		PreviousReceiver: res.Session.PreviousReceiver,
		Image:            res.Message.Image,
		CreatedAt:        res.Message.CreatedAt.Format(time.RFC3339Nano),
	}
	if !res.Session.Time.IsZero() {
		ev.Time = res.Session.Time.Format("2006-01-02T15:04:05")
	}
	return ev
}

// CustomerMessage handles a frame from a customer socket. The bot answer
// and the contact extraction run in the background.
func (d *Dispatcher) CustomerMessage(ctx context.Context, sessionID int, frame chat.OutgoingFrame) (chat.AdminEvent, error) {
	ev, err := d.storeCustomer(ctx, sessionID, frame)
	if err != nil {
		return chat.AdminEvent{}, err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		replyCtx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()

		if _, err := d.answer(replyCtx, sessionID, frame.Content, nil); err != nil {
			glog.Warningf("[dispatch] bot reply for session %d failed: %v", sessionID, err)
		}
		d.collectCustomerInfo(replyCtx, sessionID, frame.Content)
	}()
	return ev, nil
}

func (d *Dispatcher) storeCustomer(ctx context.Context, sessionID int, frame chat.OutgoingFrame) (chat.AdminEvent, error) {
	res, err := d.store.Send(ctx, chatservice.SendInput{
		SessionID:  sessionID,
		SenderType: chat.SenderCustomer,
		Content:    frame.Content,
		Image:      frame.Image,
	})
	if err != nil {
		return chat.AdminEvent{}, err
	}

	if d.metrics != nil {
		d.metrics.CustomerTones.WithLabelValues(string(tone.Analyze(frame.Content).Tone)).Inc()
	}

	ev := Event(res)
	d.hub.BroadcastAdmins(ev, nil)
	d.hub.SendToCustomer(res.Session.Key(), ev)
	return ev, nil
}

// AdminMessage handles a frame from an admin socket. The sender does not get
// its own frame back.
func (d *Dispatcher) AdminMessage(ctx context.Context, from *Client, sessionID int, frame chat.OutgoingFrame, adminName string) (chat.AdminEvent, error) {
	res, err := d.store.Send(ctx, chatservice.SendInput{
		SessionID:  sessionID,
		SenderType: chat.SenderAdmin,
		Content:    frame.Content,
		Image:      frame.Image,
		SenderName: adminName,
	})
	if err != nil {
		return chat.AdminEvent{}, err
	}

	ev := Event(res)
	d.hub.SendToCustomer(res.Session.Key(), ev)
	d.hub.BroadcastAdmins(ev, from)
	return ev, nil
}

// PostInput is a message sent through the REST endpoint.
type PostInput struct {
	SessionID  int
	SenderType chat.SenderType
	Content    string
	Image      []string
	AdminName  string
}

// Post stores a REST message and returns every message it produced. A
// customer message is answered synchronously so the reply is in the result.
func (d *Dispatcher) Post(ctx context.Context, in PostInput) ([]chat.AdminEvent, error) {
	frame := chat.OutgoingFrame{Content: in.Content, Image: in.Image}

	switch in.SenderType {
	case chat.SenderAdmin:
		ev, err := d.AdminMessage(ctx, nil, in.SessionID, frame, in.AdminName)
		if err != nil {
			return nil, err
		}
		return []chat.AdminEvent{ev}, nil
	case chat.SenderCustomer:
		ev, err := d.storeCustomer(ctx, in.SessionID, frame)
		if err != nil {
			return nil, err
		}

		out := []chat.AdminEvent{ev}
		reply, err := d.answer(ctx, in.SessionID, in.Content, nil)
		if err != nil {
			glog.Warningf("[dispatch] bot reply for session %d failed: %v", in.SessionID, err)
		} else if reply != nil {
			out = append(out, *reply)
		}
		d.collectCustomerInfo(ctx, in.SessionID, in.Content)
		return out, nil
	default:
		return nil, chatservice.ErrInvalidSender
	}
}

// Stream stores a customer message and answers it like Post. onStored sees
// the customer message once it is stored and onDelta each piece of the reply
// as it is generated. The reply is nil when the bot stays silent.
func (d *Dispatcher) Stream(ctx context.Context, sessionID int, content string, onStored func(chat.AdminEvent), onDelta func(string)) (*chat.AdminEvent, error) {
	customer, err := d.storeCustomer(ctx, sessionID, chat.OutgoingFrame{Content: content})
	if err != nil {
		return nil, err
	}
	if onStored != nil {
		onStored(customer)
	}

	reply, err := d.answer(ctx, sessionID, content, onDelta)
	d.collectCustomerInfo(ctx, sessionID, content)
	return reply, err
}

// answer produces and delivers the bot reply. It returns nil when the
// session is in manual mode.
func (d *Dispatcher) answer(ctx context.Context, sessionID int, query string, onDelta func(string)) (*chat.AdminEvent, error) {
	if d.bot == nil {
		return nil, nil
	}

	ok, err := d.store.CanReply(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		d.count("suppressed")
		glog.V(1).Infof("[dispatch] session %d is in manual mode, bot stays silent", sessionID)
		return nil, nil
	}

	history, err := d.store.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// the question itself is the last stored message
	if n := len(history); n > 0 {
		history = history[:n-1]
	}
	knowledge := d.store.SearchKnowledge(ctx, query, knowledgeLimit)

	text, err := d.generate(ctx, history, query, knowledge, onDelta)
	if err != nil {
		d.count("error")
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	if text == "" {
		d.count("empty")
		return nil, nil
	}

	res, err := d.store.Send(ctx, chatservice.SendInput{
		SessionID:  sessionID,
		SenderType: chat.SenderBot,
		Content:    text,
	})
	if err != nil {
		d.count("error")
		return nil, fmt.Errorf("store reply: %w", err)
	}
	d.count("sent")

	ev := Event(res)
	d.hub.BroadcastAdmins(ev, nil)
	d.hub.SendToCustomer(res.Session.Key(), ev)
	return &ev, nil
}

func (d *Dispatcher) generate(ctx context.Context, history []chat.Message, query string, knowledge []chat.KnowledgeResult, onDelta func(string)) (string, error) {
	streamer, ok := d.bot.(ai.Streamer)
	if !ok || onDelta == nil {
		text, err := d.bot.Reply(ctx, history, query, knowledge)
		if err == nil && text != "" && onDelta != nil {
			onDelta(text)
		}
		return text, err
	}

	stream, err := streamer.StreamReply(ctx, history, query, knowledge)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		onDelta(chunk.Content)
	}
	return strings.TrimSpace(b.String()), nil
}

func (d *Dispatcher) collectCustomerInfo(ctx context.Context, sessionID int, content string) {
	info := chatservice.ExtractCustomerInfo(content)
	if info == nil {
		return
	}

	data, changed, err := d.store.MergeCustomerData(ctx, sessionID, info)
	if err != nil {
		glog.Warningf("[dispatch] save customer info for session %d: %v", sessionID, err)
		return
	}
	if !changed {
		return
	}

	sess, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	glog.Infof("[dispatch] new customer info for session %d", sessionID)
	d.hub.BroadcastAdmins(chat.AdminEvent{
		Type:          chat.AdminEventCustomerInfo,
		ChatSessionID: chat.FlexString(sess.Key()),
		SessionName:   sess.Name,
		Platform:      sess.Channel,
		CustomerData:  data,
	}, nil)
}

// Wait blocks until background replies finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) count(outcome string) {
	if d.metrics != nil {
		d.metrics.BotReplies.WithLabelValues(outcome).Inc()
	}
}
