package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chatdesk/internal/middleware"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/service/realtime"
	"github.com/zhouzirui/chatdesk/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

type errorFrame struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// handleCustomerSocket attaches a widget to its session.
func (h *Handler) handleCustomerSocket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("sessionId")
	id, err := strconv.Atoi(raw)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[websocket] upgrade failed: %v", err)
		return
	}

	client := h.hub.AddCustomer(session.Key(), conn)
	defer h.hub.Remove(client)

	h.serve(r.Context(), client, func(ctx context.Context, frame chat.OutgoingFrame) {
		if _, err := h.dispatcher.CustomerMessage(ctx, id, frame); err != nil {
			glog.Warningf("[websocket] customer message for session %d rejected: %v", id, err)
			_ = client.WriteJSON(errorFrame{Type: "error", Detail: err.Error()})
		}
	})
}

// handleAdminSocket attaches a dashboard. Admin frames name their session.
func (h *Handler) handleAdminSocket(w http.ResponseWriter, r *http.Request) {
	adminName := middleware.AdminName(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[websocket] upgrade failed: %v", err)
		return
	}

	client := h.hub.AddAdmin(conn)
	defer h.hub.Remove(client)

	h.serve(r.Context(), client, func(ctx context.Context, frame chat.OutgoingFrame) {
		id, err := strconv.Atoi(frame.ChatSessionID)
		if err != nil {
			_ = client.WriteJSON(errorFrame{Type: "error", Detail: "chat_session_id must be a number"})
			return
		}
		if _, err := h.dispatcher.AdminMessage(ctx, client, id, frame, adminName); err != nil {
			glog.Warningf("[websocket] admin message for session %d rejected: %v", id, err)
			_ = client.WriteJSON(errorFrame{Type: "error", Detail: err.Error()})
		}
	})
}

// serve runs the read loop until the peer goes away.
func (h *Handler) serve(ctx context.Context, client *realtime.Client, onFrame func(context.Context, chat.OutgoingFrame)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := client.Conn()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(ctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				glog.Warningf("[websocket] %s read error: %v", client.Role(), err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame chat.OutgoingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.countDropped(client.Role())
			glog.Warningf("[websocket] skip undecodable %s frame: %v", client.Role(), err)
			continue
		}
		if frame.Content == "" && len(frame.Image) == 0 {
			h.countDropped(client.Role())
			continue
		}
		if h.metrics != nil {
			h.metrics.FramesIn.WithLabelValues(client.Role()).Inc()
		}
		onFrame(ctx, frame)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) countDropped(role string) {
	if h.metrics != nil {
		h.metrics.FramesDropped.WithLabelValues(role).Inc()
	}
}
