package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

func newTestClient(t *testing.T, r chi.Router, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return New(server.URL+"/", opts...)
}

func TestCreateSessionNumericID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/session", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "https://shop.example/page", body["url_channel"])
		_, _ = w.Write([]byte(`{"id": 42}`))
	})

	client := newTestClient(t, r)
	session, err := client.CreateSession(context.Background(), "https://shop.example/page")
	require.NoError(t, err)
	assert.Equal(t, "42", session.ID)
}

func TestCreateSessionEmptyID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/session", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	client := newTestClient(t, r)
	_, err := client.CreateSession(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestCheckSessionNotFound(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/session/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Chat session not found"}`))
	})

	client := newTestClient(t, r)
	_, err := client.CheckSession(context.Background(), "7", "chan")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Chat session not found", apiErr.Message)
	assert.Equal(t, http.MethodGet, apiErr.Method)
}

func TestHistoryQueryAndDecoding(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/history/{id}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "9", chi.URLParam(req, "id"))
		assert.Equal(t, "2", req.URL.Query().Get("page"))
		assert.Equal(t, "50", req.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"id": 1, "chat_session_id": 9, "sender_type": "bot", "content": "hi", "created_at": "2024-05-01T10:00:00"},
			{"id": 2, "chat_session_id": 9, "sender_type": "customer", "content": "hello", "image": "[\"http://img/1.png\"]"}
		]`))
	})

	client := newTestClient(t, r)
	msgs, err := client.History(context.Background(), "9", 2, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.MessageID("1"), msgs[0].ID)
	assert.Equal(t, "9", msgs[0].ChatSessionID)
	assert.Equal(t, 2024, msgs[0].CreatedAt.Year())
	assert.Equal(t, chat.ImageList{"http://img/1.png"}, msgs[1].Image)
}

func TestHistorySkipsMalformedEntries(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/history/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 1, "sender_type": "bot", "content": "first"},
			{"id": 2, "sender_type": "customer", "content": {"text": "not a string"}},
			"garbage",
			{"id": 3, "sender_type": "admin", "content": "third"}
		]`))
	})

	client := newTestClient(t, r)
	msgs, err := client.History(context.Background(), "9", 1, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, chat.MessageID("3"), msgs[1].ID)
}

func TestHistoryRejectsNonArray(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/history/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"detail": "oops"}`))
	})

	_, err := newTestClient(t, r).History(context.Background(), "9", 1, 50)
	assert.Error(t, err)
}

func TestAccessTokenCookie(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/admin/history", func(w http.ResponseWriter, req *http.Request) {
		cookie, err := req.Cookie(AccessTokenCookie)
		if err != nil || cookie.Value != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"session_id": 3, "status": "false", "alert": true, "created_at": "2024-05-01T10:00:00"}]`))
	})

	client := newTestClient(t, r, WithAccessToken("secret"))
	convs, err := client.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "3", convs[0].ID())
	assert.True(t, convs[0].ManualMode())
	assert.True(t, convs[0].Alert.Bool())

	anonymous := newTestClient(t, r)
	_, err = anonymous.Conversations(context.Background())
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
}

func TestDeleteMessagesSendsNumericIDs(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/chat/messages/{id}", func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		assert.JSONEq(t, `{"ids":[5,6]}`, string(raw))
		_, _ = w.Write([]byte(`{"deleted": 2, "ids": [5, 6]}`))
	})

	client := newTestClient(t, r)
	res, err := client.DeleteMessages(context.Background(), "1", []chat.MessageID{"5", "6"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, []chat.MessageID{"5", "6"}, res.IDs)
}

func TestDeleteSessionsBody(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/chat/chat_sessions", func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		assert.JSONEq(t, `{"ids":[1,"abc"]}`, string(raw))
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestClient(t, r)
	require.NoError(t, client.DeleteSessions(context.Background(), []string{"1", "abc"}))
}

func TestUpdateStatusAndTags(t *testing.T) {
	var status, tags string
	r := chi.NewRouter()
	r.Patch("/chat/{id}", func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		status = string(raw)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Patch("/chat/tag/{id}", func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		tags = string(raw)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	client := newTestClient(t, r)
	ctx := context.Background()
	require.NoError(t, client.UpdateStatus(ctx, "4", chat.StatusUpdate{Status: chat.StatusBot}))
	require.NoError(t, client.UpdateSessionTags(ctx, "4", nil))

	assert.JSONEq(t, `{"status":"true"}`, status)
	assert.JSONEq(t, `{"tags":[]}`, tags)
}

func TestSendMessageFailureStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/send_message", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","data":[]}`))
	})

	client := newTestClient(t, r)
	_, err := client.SendMessage(context.Background(), SendRequest{ChatSessionID: "1", SenderType: chat.SenderAdmin, Content: "x", IsAdmin: true})
	assert.Error(t, err)
}

func TestSearchKnowledge(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/knowledge-base/search", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "refund policy", req.URL.Query().Get("query"))
		_, _ = w.Write([]byte(`[{"id": 1, "title": "Refunds", "content": "30 days", "score": 0.9}]`))
	})

	client := newTestClient(t, r)
	hits, err := client.SearchKnowledge(context.Background(), "refund policy")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chat.FlexString("1"), hits[0].ID)
	assert.Equal(t, "Refunds", hits[0].Title)
}

func TestErrorMessageFallsBackToBody(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte("boom\n")))
	assert.Equal(t, "bad", errorMessage([]byte(`{"error":"bad"}`)))
	assert.Equal(t, "", errorMessage(nil))
}
