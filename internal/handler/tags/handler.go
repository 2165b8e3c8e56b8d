package tags

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatdesk/internal/middleware"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
	chatService "github.com/zhouzirui/chatdesk/internal/service/chat"
	"github.com/zhouzirui/chatdesk/pkg/utils"
)

const defaultSearchLimit = 5

// Handler serves the tag catalogue and the knowledge-base search.
type Handler struct {
	chatSvc *chatService.Service
	auth    *middleware.JWTAuth
}

// New creates the tag handler.
func New(chatSvc *chatService.Service, auth *middleware.JWTAuth) *Handler {
	return &Handler{chatSvc: chatSvc, auth: auth}
}

// RegisterRoutes mounts /tags and /knowledge-base.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tags", func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/chat_session/{sessionID}", h.handleSessionTags)
		r.Get("/{tagID}", h.handleGet)
		r.Put("/{tagID}", h.handleUpdate)
		r.Delete("/{tagID}", h.handleDelete)
	})
	r.Get("/knowledge-base/search", h.handleSearch)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Tags(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "tagID")
	if !ok {
		return
	}
	tag, err := h.chatSvc.Tag(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, tag)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var tag chat.Tag
	if err := utils.DecodeJSON(r, &tag); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := h.chatSvc.CreateTag(r.Context(), tag)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "tagID")
	if !ok {
		return
	}
	var tag chat.Tag
	if err := utils.DecodeJSON(r, &tag); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := h.chatSvc.UpdateTag(r.Context(), id, tag)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "tagID")
	if !ok {
		return
	}
	if err := h.chatSvc.DeleteTag(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"deleted": id})
}

func (h *Handler) handleSessionTags(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "sessionID")
	if !ok {
		return
	}
	tags, err := h.chatSvc.SessionTags(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, tags)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		utils.RespondError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := defaultSearchLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.SearchKnowledge(r.Context(), query, limit))
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, name+" must be a number")
		return 0, false
	}
	return id, true
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrTagNotFound), errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrTagNameMissing):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
