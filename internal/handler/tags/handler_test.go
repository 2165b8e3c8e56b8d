package tags

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
	chatservice "github.com/zhouzirui/chatdesk/internal/service/chat"
)

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService(chatservice.WithKnowledge(chatservice.SeedKnowledge()))
	if err := chatservice.SeedTags(context.Background(), chatSvc); err != nil {
		t.Fatalf("seed tags: %v", err)
	}

	r := chi.NewRouter()
	New(chatSvc, nil).RegisterRoutes(r)
	return r, chatSvc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestTagLifecycle(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(r, http.MethodGet, "/tags/", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var seeded []chat.Tag
	if err := json.Unmarshal(resp.Body.Bytes(), &seeded); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	if len(seeded) != 3 {
		t.Fatalf("expected 3 seeded tags, got %d", len(seeded))
	}

	resp = do(r, http.MethodPost, "/tags/", chat.Tag{Name: "VIP", Color: "#ff0000"})
	if resp.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.Code)
	}
	var created chat.Tag
	_ = json.Unmarshal(resp.Body.Bytes(), &created)
	if created.ID == 0 || created.Name != "VIP" {
		t.Fatalf("unexpected created tag %+v", created)
	}

	path := "/tags/" + jsonInt(created.ID)
	if resp := do(r, http.MethodPut, path, chat.Tag{Name: "Khách VIP"}); resp.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.Code)
	}
	resp = do(r, http.MethodGet, path, nil)
	var got chat.Tag
	_ = json.Unmarshal(resp.Body.Bytes(), &got)
	if got.Name != "Khách VIP" {
		t.Fatalf("expected renamed tag, got %+v", got)
	}

	if resp := do(r, http.MethodDelete, path, nil); resp.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, path, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestCreateTagRequiresName(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(r, http.MethodPost, "/tags/", chat.Tag{Name: "  "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSessionTags(t *testing.T) {
	r, chatSvc := setupRouter(t)
	ctx := context.Background()

	session, _ := chatSvc.CreateSession(ctx, "")
	if _, err := chatSvc.SetSessionTags(ctx, session.ID, []int{1, 2}); err != nil {
		t.Fatalf("SetSessionTags err: %v", err)
	}

	resp := do(r, http.MethodGet, "/tags/chat_session/"+session.Key(), nil)
	var tags []chat.Tag
	_ = json.Unmarshal(resp.Body.Bytes(), &tags)
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(tags))
	}

	if resp := do(r, http.MethodGet, "/tags/chat_session/999", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestKnowledgeSearch(t *testing.T) {
	r, _ := setupRouter(t)

	resp := do(r, http.MethodGet, "/knowledge-base/search?query=h%E1%BB%8Dc+ph%C3%AD", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var hits []chat.KnowledgeResult
	_ = json.Unmarshal(resp.Body.Bytes(), &hits)
	if len(hits) == 0 || hits[0].Title != "Học phí" {
		t.Fatalf("unexpected hits %+v", hits)
	}

	if resp := do(r, http.MethodGet, "/knowledge-base/search", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without query, got %d", resp.Code)
	}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
