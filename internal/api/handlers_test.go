package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"

	"cordai/internal/models"
	"cordai/internal/relay"
	"cordai/internal/service/ai"
	"cordai/internal/service/conversation"
)

type mockAgent struct {
	mu     sync.Mutex
	calls  []ai.Invocation
	frames []models.Frame
	err    error
}

func (m *mockAgent) Invoke(ctx context.Context, inv ai.Invocation) (<-chan models.Frame, error) {
	m.mu.Lock()
	m.calls = append(m.calls, inv)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan models.Frame)
	go func() {
		defer close(ch)
		for _, f := range m.frames {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (m *mockAgent) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type testServer struct {
	router        *gin.Engine
	agent         *mockAgent
	relay         *relay.Relay
	conversations *conversation.Service
	threads       ai.ThreadMemory
}

func newTestServer(t *testing.T, agent *mockAgent, requireUserID bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := ai.NewRegistry()
	if agent != nil {
		registry.Register("cordaiAgent", agent)
	}
	convs := conversation.NewService(conversation.NewMemoryStore())
	rl := relay.New(relay.Options{
		Agents:        registry,
		AgentName:     "cordaiAgent",
		Conversations: convs,
		Timeout:       2 * time.Second,
	})
	threads := ai.NewLocalMemory(0)
	handler := NewHandler(rl, convs, threads, requireUserID)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, agent: agent, relay: rl, conversations: convs, threads: threads}
}

func successAgent() *mockAgent {
	return &mockAgent{frames: []models.Frame{
		models.TextDelta("Hel"),
		models.TextDelta("lo"),
		models.Finish(models.FinishStop),
	}}
}

func TestChatStreamsFrames(t *testing.T) {
	srv := newTestServer(t, successAgent(), true)
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]interface{}{
		"id":      "conv-1",
		"userId":  "wallet-1",
		"message": map[string]string{"role": "user", "content": "what's my balance?"},
	})
	assertStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if got := rec.Header().Get(conversationHeader); got != "conv-1" {
		t.Fatalf("unexpected conversation header %q", got)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 SSE events, got %#v", events)
	}
	var text strings.Builder
	for _, evt := range events[:2] {
		if evt.Name != "text-delta" {
			t.Fatalf("expected text-delta, got %s", evt.Name)
		}
		var frame models.Frame
		decodeJSON(t, []byte(evt.Data), &frame)
		text.WriteString(frame.Delta)
	}
	if text.String() != "Hello" {
		t.Fatalf("unexpected text %q", text.String())
	}
	var finish models.Frame
	decodeJSON(t, []byte(events[2].Data), &finish)
	if events[2].Name != "finish" || finish.FinishReason != models.FinishStop {
		t.Fatalf("unexpected finish %#v", events[2])
	}

	if srv.agent.callCount() != 1 {
		t.Fatalf("expected one agent call, got %d", srv.agent.callCount())
	}
	inv := srv.agent.calls[0]
	if inv.ThreadID != "conv-1" || inv.ResourceID != "wallet-1" {
		t.Fatalf("unexpected invocation %#v", inv)
	}
	if !strings.HasSuffix(inv.Content, "[Context: User's connected wallet address is wallet-1]") {
		t.Fatalf("message was not enriched: %q", inv.Content)
	}

	srv.relay.Wait()

	list, err := srv.conversations.List(context.Background(), "wallet-1")
	if err != nil || len(list) != 1 || list[0].ID != "conv-1" {
		t.Fatalf("conversation not registered: %v %#v", err, list)
	}
}

func TestChatValidation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		noAgent bool
		status  int
		text    string
	}{
		{name: "malformed", body: `{"message":`, status: http.StatusBadRequest, text: "Bad Request"},
		{name: "missing message", body: `{"id":"c","userId":"u"}`, status: http.StatusBadRequest, text: "No message found"},
		{name: "empty content", body: `{"id":"c","userId":"u","message":{"role":"user","content":"  "}}`, status: http.StatusBadRequest, text: "No message found"},
		{name: "bad role", body: `{"id":"c","userId":"u","message":{"role":"robot","content":"hi"}}`, status: http.StatusBadRequest, text: "Invalid message role"},
		{name: "missing user", body: `{"id":"c","message":{"role":"user","content":"hi"}}`, status: http.StatusBadRequest, text: "User ID required"},
		{name: "no agent", body: `{"id":"c","userId":"u","message":{"role":"user","content":"hi"}}`, noAgent: true, status: http.StatusInternalServerError, text: "Agent not configured"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agent := successAgent()
			srv := newTestServer(t, agent, true)
			if tc.noAgent {
				srv = newTestServer(t, nil, true)
			}
			rec := doRawRequest(t, srv.router, http.MethodPost, "/api/chat", tc.body)
			assertStatus(t, rec, tc.status)
			if rec.Body.String() != tc.text {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
			if strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream") {
				t.Fatalf("stream must not open on validation failure")
			}
			if agent.callCount() != 0 {
				t.Fatalf("agent must not be called, got %d calls", agent.callCount())
			}
		})
	}
}

func TestChatUserOptionalGeneratesConversationID(t *testing.T) {
	srv := newTestServer(t, successAgent(), false)
	rec := doRawRequest(t, srv.router, http.MethodPost, "/api/chat", `{"message":{"content":"price of SOL?"}}`)
	assertStatus(t, rec, http.StatusOK)
	id := rec.Header().Get(conversationHeader)
	if id == "" {
		t.Fatalf("expected generated conversation id")
	}
	if srv.agent.calls[0].ThreadID != id {
		t.Fatalf("thread id %q does not match header %q", srv.agent.calls[0].ThreadID, id)
	}
	if srv.agent.calls[0].Content != "price of SOL?" {
		t.Fatalf("message should not be enriched without a user: %q", srv.agent.calls[0].Content)
	}
}

func TestChatStreamErrorIsGeneric(t *testing.T) {
	agent := &mockAgent{frames: []models.Frame{
		models.TextDelta("partial"),
		models.ErrorFrame(errors.New("openai: 429 quota exceeded for key sk-123")),
	}}
	srv := newTestServer(t, agent, true)
	rec := doRawRequest(t, srv.router, http.MethodPost, "/api/chat", `{"id":"c","userId":"u","message":{"role":"user","content":"hi"}}`)
	assertStatus(t, rec, http.StatusOK)

	events := parseSSE(t, rec.Body.String())
	if len(events) != 3 || events[1].Name != "error" || events[2].Name != "finish" {
		t.Fatalf("unexpected SSE sequence %#v", events)
	}
	var frame models.Frame
	decodeJSON(t, []byte(events[1].Data), &frame)
	if frame.Message != relay.ErrorMessage {
		t.Fatalf("unexpected error text %q", frame.Message)
	}
	if strings.Contains(rec.Body.String(), "sk-123") {
		t.Fatalf("upstream error leaked to client")
	}
	list, _ := srv.conversations.List(context.Background(), "u")
	if len(list) != 0 {
		t.Fatalf("failed turn should not touch registry")
	}
}

func TestChatInvokeFailure(t *testing.T) {
	agent := &mockAgent{err: &ai.ExecutionError{Agent: "cordaiAgent", Err: errors.New("dial tcp")}}
	srv := newTestServer(t, agent, true)
	rec := doRawRequest(t, srv.router, http.MethodPost, "/api/chat", `{"id":"c","userId":"u","message":{"role":"user","content":"hi"}}`)
	assertStatus(t, rec, http.StatusOK)
	events := parseSSE(t, rec.Body.String())
	if len(events) != 2 || events[0].Name != "error" || events[1].Name != "finish" {
		t.Fatalf("unexpected SSE sequence %#v", events)
	}
}

func TestConversationsEndpoints(t *testing.T) {
	srv := newTestServer(t, successAgent(), true)

	rec := doJSONRequest(t, srv.router, http.MethodGet, "/api/conversations?userId=u", nil)
	assertStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}

	for _, id := range []string{"a", "b"} {
		rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/conversations", map[string]interface{}{
			"userId":       "u",
			"conversation": map[string]string{"id": id, "title": "title " + id},
		})
		assertStatus(t, rec, http.StatusOK)
	}
	var saved struct {
		Success      bool                `json:"success"`
		Conversation models.Conversation `json:"conversation"`
	}
	decodeJSON(t, rec.Body.Bytes(), &saved)
	if !saved.Success || saved.Conversation.ID != "b" || saved.Conversation.LastMessageAt == nil {
		t.Fatalf("unexpected save response %s", rec.Body.String())
	}

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/conversations?userId=u", nil)
	assertStatus(t, rec, http.StatusOK)
	var list []models.Conversation
	decodeJSON(t, rec.Body.Bytes(), &list)
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("unexpected list %s", rec.Body.String())
	}

	rec = doJSONRequest(t, srv.router, http.MethodDelete, "/api/conversations", map[string]string{"userId": "u", "conversationId": "a"})
	assertStatus(t, rec, http.StatusOK)
	rec = doJSONRequest(t, srv.router, http.MethodDelete, "/api/conversations", map[string]string{"userId": "u", "conversationId": "a"})
	assertStatus(t, rec, http.StatusOK)

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/conversations?userId=u", nil)
	decodeJSON(t, rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("unexpected list after delete %s", rec.Body.String())
	}
}

func TestConversationsValidation(t *testing.T) {
	srv := newTestServer(t, successAgent(), true)
	cases := []struct {
		method string
		path   string
		body   string
		status int
		errMsg string
	}{
		{http.MethodGet, "/api/conversations", "", http.StatusBadRequest, "User ID required"},
		{http.MethodPost, "/api/conversations", `{"userId":"u"}`, http.StatusBadRequest, "User ID and conversation required"},
		{http.MethodPost, "/api/conversations", `{"conversation":{"id":"a"}}`, http.StatusBadRequest, "User ID and conversation required"},
		{http.MethodPost, "/api/conversations", `{"userId":`, http.StatusInternalServerError, "Failed to save conversation"},
		{http.MethodPost, "/api/conversations", `{"userId":"u","conversation":{"id":"a","messages":[]}}`, http.StatusBadRequest, "Invalid conversation"},
		{http.MethodPost, "/api/conversations", `{"userId":"u","conversation":"a"}`, http.StatusBadRequest, "Invalid conversation"},
		{http.MethodPost, "/api/conversations", `{"userId":"u","conversation":null}`, http.StatusBadRequest, "User ID and conversation required"},
		{http.MethodDelete, "/api/conversations", `{"userId":"u"}`, http.StatusBadRequest, "User ID and conversation ID required"},
		{http.MethodDelete, "/api/conversations", `nope`, http.StatusInternalServerError, "Failed to delete conversation"},
	}
	for _, tc := range cases {
		rec := doRawRequest(t, srv.router, tc.method, tc.path, tc.body)
		assertStatus(t, rec, tc.status)
		var body struct {
			Error string `json:"error"`
		}
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body.Error != tc.errMsg {
			t.Fatalf("%s %s: unexpected error %q", tc.method, tc.path, body.Error)
		}
	}
	list, _ := srv.conversations.List(context.Background(), "u")
	if len(list) != 0 {
		t.Fatalf("rejected conversations must not be stored: %#v", list)
	}
}

func TestDeleteConversationForgetsThread(t *testing.T) {
	srv := newTestServer(t, successAgent(), true)
	ctx := context.Background()
	if err := srv.threads.Append(ctx, "u", "a", schema.UserMessage("hi")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := srv.threads.Append(ctx, "u", "b", schema.UserMessage("keep")); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec := doJSONRequest(t, srv.router, http.MethodDelete, "/api/conversations", map[string]string{"userId": "u", "conversationId": "a"})
	assertStatus(t, rec, http.StatusOK)

	if history, _ := srv.threads.Load(ctx, "u", "a"); len(history) != 0 {
		t.Fatalf("deleted conversation memory kept: %+v", history)
	}
	if history, _ := srv.threads.Load(ctx, "u", "b"); len(history) != 1 {
		t.Fatalf("other conversation memory dropped: %+v", history)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, true)
	rec := doJSONRequest(t, srv.router, http.MethodGet, "/api/health", nil)
	assertStatus(t, rec, http.StatusOK)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	return doRawRequest(t, router, method, path, buf.String())
}

func doRawRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
