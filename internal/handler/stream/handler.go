package stream

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
	chatService "github.com/zhouzirui/chatdesk/internal/service/chat"
	"github.com/zhouzirui/chatdesk/internal/service/realtime"
	"github.com/zhouzirui/chatdesk/pkg/utils"
)

// Handler streams bot replies to a customer message via Server-Sent Events.
type Handler struct {
	chatSvc    *chatService.Service
	dispatcher *realtime.Dispatcher
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, dispatcher *realtime.Dispatcher) *Handler {
	return &Handler{chatSvc: chatSvc, dispatcher: dispatcher}
}

// StreamResponse is the payload of the delta, end and error events.
type StreamResponse struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Silent    bool   `json:"silent,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes mounts the stream endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// handleStream emits message for the stored customer message, then the delta
// events, then reply with the stored bot message and finally end. reply is
// skipped and end is marked silent when the bot does not answer.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	content := strings.TrimSpace(r.URL.Query().Get("message"))
	if content == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	key := session.Key()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	reply, err := h.dispatcher.Stream(r.Context(), id, content,
		func(ev chat.AdminEvent) {
			utils.SendSSEEvent(w, flusher, "message", ev)
		},
		func(piece string) {
			utils.SendSSEEvent(w, flusher, "delta", StreamResponse{SessionID: key, Content: piece})
		})
	if err != nil {
		glog.Warningf("[stream] session %s: %v", key, err)
		utils.SendSSEEvent(w, flusher, "error", StreamResponse{SessionID: key, Error: err.Error()})
		return
	}
	if reply != nil {
		utils.SendSSEEvent(w, flusher, "reply", *reply)
	}

	utils.SendSSEEvent(w, flusher, "end", StreamResponse{
		SessionID: key,
		Finished:  true,
		Silent:    reply == nil,
	})
	glog.V(1).Infof("[stream] completed reply for session %s", key)
}
