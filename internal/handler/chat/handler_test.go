package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-recall/backend/internal/service/chat"
	"github.com/zhouzirui/z-recall/backend/internal/service/turn"
)

type stubTurns struct {
	reply turn.Reply
	err   error
	calls int
}

func (s *stubTurns) CachedOrRun(_ context.Context, _, _, _ string, _ ...turn.RunOption) (turn.Reply, error) {
	s.calls++
	return s.reply, s.err
}

func setupRouter(turns Turns) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(chatservice.NewMemoryStore())
	handler := New(chatSvc, turns)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
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

func TestCreateSessionDefaultsName(t *testing.T) {
	r, _ := setupRouter(nil)

	resp := doJSON(r, http.MethodPost, "/session", map[string]string{"userId": "alice"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["sessionName"] != "New Chat" {
		t.Fatalf("expected default session name, got %v", body["sessionName"])
	}
	if body["id"] == "" {
		t.Fatalf("expected session id")
	}
}

func TestCreateSessionMissingUserID(t *testing.T) {
	r, _ := setupRouter(nil)

	resp := doJSON(r, http.MethodPost, "/session", map[string]string{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("userId is required")) {
		t.Fatalf("unexpected error body: %s", resp.Body.String())
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter(nil)

	resp := doJSON(r, http.MethodGet, "/session/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSaveMessageCreatesSession(t *testing.T) {
	r, chatSvc := setupRouter(nil)

	resp := doJSON(r, http.MethodPost, "/messages", map[string]string{
		"sessionId": "s1",
		"userId":    "alice",
		"userQuery": "What is 2+2?",
		"llmResp":   "4",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	got, ok, err := chatSvc.Lookup(context.Background(), "s1", "What is 2+2?")
	if err != nil || !ok || got != "4" {
		t.Fatalf("expected cached response, got %q ok=%v err=%v", got, ok, err)
	}

	resp = doJSON(r, http.MethodGet, "/session/s1/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var messages []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
}

func TestSaveMessageForeignSession(t *testing.T) {
	r, chatSvc := setupRouter(nil)
	if err := chatSvc.Record(context.Background(), "s1", "alice", "q", "a"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doJSON(r, http.MethodPost, "/messages", map[string]string{
		"sessionId": "s1",
		"userId":    "bob",
		"userQuery": "q",
		"llmResp":   "a",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestChatReturnsReply(t *testing.T) {
	turns := &stubTurns{reply: turn.Reply{Response: "4", Cached: true}}
	r, _ := setupRouter(turns)

	resp := doJSON(r, http.MethodPost, "/chat", map[string]string{
		"userId":    "alice",
		"sessionId": "s1",
		"content":   "What is 2+2?",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body ChatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Response != "4" || !body.Cached || body.SessionID != "s1" || body.UserID != "alice" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestChatGatewayFailure(t *testing.T) {
	turns := &stubTurns{err: &ai.GatewayError{Op: "generate", Err: errors.New("timeout")}}
	r, _ := setupRouter(turns)

	resp := doJSON(r, http.MethodPost, "/chat", map[string]string{
		"userId":    "alice",
		"sessionId": "s1",
		"content":   "hello",
	})
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestChatRejectsForeignSession(t *testing.T) {
	turns := &stubTurns{reply: turn.Reply{Response: "hi"}}
	r, chatSvc := setupRouter(turns)
	if err := chatSvc.Record(context.Background(), "s1", "alice", "q", "a"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := doJSON(r, http.MethodPost, "/chat", map[string]string{
		"userId":    "bob",
		"sessionId": "s1",
		"content":   "hello",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if turns.calls != 0 {
		t.Fatalf("turn should not run for a foreign session")
	}
}

func TestChatUnavailable(t *testing.T) {
	r, _ := setupRouter(nil)

	resp := doJSON(r, http.MethodPost, "/chat", map[string]string{"userId": "a", "sessionId": "s"})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}
