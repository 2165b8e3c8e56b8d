package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chatdesk/internal/metrics"
	"github.com/zhouzirui/chatdesk/internal/middleware"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	chatService "github.com/zhouzirui/chatdesk/internal/service/chat"
	"github.com/zhouzirui/chatdesk/internal/service/realtime"
	"github.com/zhouzirui/chatdesk/pkg/utils"
)

// Handler serves the chat REST endpoints and the chat sockets.
type Handler struct {
	chatSvc    *chatService.Service
	dispatcher *realtime.Dispatcher
	hub        *realtime.Hub
	auth       *middleware.JWTAuth
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
}

// New creates the chat handler. auth may be nil to leave admin routes open.
func New(chatSvc *chatService.Service, dispatcher *realtime.Dispatcher, hub *realtime.Hub, auth *middleware.JWTAuth, m *metrics.Metrics) *Handler {
	return &Handler{
		chatSvc:    chatSvc,
		dispatcher: dispatcher,
		hub:        hub,
		auth:       auth,
		metrics:    m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the routes on a /chat router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleCheckSession)
	r.Get("/history/{sessionID}", h.handleHistory)
	r.Post("/send_message", h.handleSendMessage)
	r.Get("/ws/customer", h.handleCustomerSocket)

	r.Group(func(admin chi.Router) {
		admin.Use(h.auth.Middleware)

		admin.Get("/admin/history", h.handleConversations)
		admin.Get("/admin/customers", h.handleCustomers)
		admin.Get("/admin/count_by_channel", h.handleSummary)
		admin.Patch("/tag/{sessionID}", h.handleUpdateTags)
		admin.Put("/alert/{sessionID}", h.handleUpdateAlert)
		admin.Delete("/messages/{sessionID}", h.handleDeleteMessages)
		admin.Delete("/chat_sessions", h.handleDeleteSessions)
		admin.Patch("/{sessionID}", h.handleUpdateStatus)
		admin.Get("/ws/admin", h.handleAdminSocket)
	})
}

type sessionView struct {
	ID               int            `json:"id"`
	Name             string         `json:"name"`
	Status           string         `json:"status"`
	Channel          string         `json:"channel"`
	URLChannel       string         `json:"url_channel,omitempty"`
	Time             *string        `json:"time"`
	CurrentReceiver  string         `json:"current_receiver"`
	PreviousReceiver string         `json:"previous_receiver,omitempty"`
	Alert            bool           `json:"alert"`
	Tags             []int          `json:"tags"`
	CustomerData     map[string]any `json:"customer_data,omitempty"`
	CreatedAt        string         `json:"created_at"`
}

func newSessionView(s chatService.Session) sessionView {
	view := sessionView{
		ID:               s.ID,
		Name:             s.Name,
		Status:           s.Status,
		Channel:          s.Channel,
		URLChannel:       s.URLChannel,
		CurrentReceiver:  s.CurrentReceiver,
		PreviousReceiver: s.PreviousReceiver,
		Alert:            s.Alert,
		Tags:             append([]int{}, s.TagIDs...),
		CustomerData:     s.CustomerData,
		CreatedAt:        s.CreatedAt.Format("2006-01-02T15:04:05.999999"),
	}
	if !s.Time.IsZero() {
		t := s.Time.Format("2006-01-02T15:04:05")
		view.Time = &t
	}
	return view
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		URLChannel string `json:"url_channel"`
	}
	// an empty body is fine
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.URLChannel)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	glog.Infof("[chat] created session %s (%s)", session.Name, session.Key())
	utils.RespondJSON(w, http.StatusOK, newSessionView(session))
}

// handleCheckSession returns the session, or a fresh one when the id is
// unknown so a widget with a stale id keeps working.
func (h *Handler) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	urlChannel := r.URL.Query().Get("url_channel")

	id, err := strconv.Atoi(chi.URLParam(r, "sessionID"))
	if err != nil {
		id = 0
	}

	session, created, err := h.chatSvc.CheckSession(r.Context(), id, urlChannel)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if created {
		glog.Infof("[chat] session %q unknown, created %s", chi.URLParam(r, "sessionID"), session.Key())
	}
	utils.RespondJSON(w, http.StatusOK, newSessionView(session))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)

	messages, err := h.chatSvc.History(r.Context(), id, page, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChatSessionID chat.FlexString `json:"chat_session_id"`
		SenderType    chat.SenderType `json:"sender_type"`
		Content       string          `json:"content"`
		IsAdmin       bool            `json:"is_admin"`
		Image         []string        `json:"image"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := strconv.Atoi(string(payload.ChatSessionID))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "chat_session_id must be a number")
		return
	}

	in := realtime.PostInput{
		SessionID:  id,
		SenderType: payload.SenderType,
		Content:    payload.Content,
		Image:      payload.Image,
	}
	if payload.IsAdmin || payload.SenderType == chat.SenderAdmin {
		name, err := h.auth.Authenticate(r)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		in.SenderType = chat.SenderAdmin
		in.AdminName = name
	}
	if in.SenderType == "" {
		in.SenderType = chat.SenderCustomer
	}

	events, err := h.dispatcher.Post(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"status": "success", "data": events})
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Conversations(r.Context()))
}

func (h *Handler) handleCustomers(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	tagID := queryInt(r, "tag_id", 0)
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Customers(r.Context(), channel, tagID))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Summary(r.Context()))
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var update chat.StatusUpdate
	if err := utils.DecodeJSON(r, &update); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.UpdateStatus(r.Context(), id, update, middleware.AdminName(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	glog.Infof("[chat] session %d status=%s until=%v", id, session.Status, session.Time)
	utils.RespondJSON(w, http.StatusOK, newSessionView(session))
}

func (h *Handler) handleUpdateTags(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Tags []int `json:"tags"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.SetSessionTags(r.Context(), id, payload.Tags)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionView(session))
}

func (h *Handler) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Alert chat.FlexString `json:"alert"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.SetAlert(r.Context(), id, payload.Alert.Bool()); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"id": id, "alert": payload.Alert.Bool()})
}

func (h *Handler) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		IDs []chat.MessageID `json:"ids"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ids := make([]int, 0, len(payload.IDs))
	for _, raw := range payload.IDs {
		// unconfirmed client ids never reached the store
		if n, err := strconv.Atoi(string(raw)); err == nil {
			ids = append(ids, n)
		}
	}

	removed := h.chatSvc.DeleteMessages(r.Context(), id, ids)
	utils.RespondJSON(w, http.StatusOK, chat.DeleteResult{Deleted: len(removed), IDs: removed})
}

func (h *Handler) handleDeleteSessions(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDs []chat.FlexString `json:"ids"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ids := make([]int, 0, len(payload.IDs))
	for _, raw := range payload.IDs {
		if n, err := strconv.Atoi(string(raw)); err == nil {
			ids = append(ids, n)
		}
	}

	deleted := h.chatSvc.DeleteSessions(r.Context(), ids)
	glog.Infof("[chat] deleted %d sessions", deleted)
	utils.RespondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "session id must be a number")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrInvalidSender),
		errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, chatService.ErrInvalidStatus),
		errors.Is(err, chatService.ErrInvalidTime):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		glog.Errorf("[chat] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
