package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anand-san/murmur/internal/llm"
	"github.com/anand-san/murmur/internal/middleware"
	"github.com/anand-san/murmur/internal/model"
	natsclient "github.com/anand-san/murmur/internal/nats"
	"github.com/anand-san/murmur/internal/secret"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/internal/store"
	"github.com/anand-san/murmur/pkg/logger"
)

type echoClient struct {
	tokens []string
	system string
	calls  int
}

func (c *echoClient) CompleteStream(_ context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	c.calls++
	c.system = req.System
	var content string
	for i, tok := range c.tokens {
		if err := cb(tok, i); err != nil {
			return nil, err
		}
		content += tok
	}
	return &llm.CompletionResponse{Content: content, Chunks: len(c.tokens), StopReason: "stop"}, nil
}

func (c *echoClient) Name() string { return "openai" }

type fixedRegistry struct{ reg *llm.Registry }

func (f fixedRegistry) Build(context.Context) (*llm.Registry, error) { return f.reg, nil }

type fakeTranscriber struct {
	text string
	err  error
	got  []byte
}

func (f *fakeTranscriber) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.got, _ = io.ReadAll(req.Reader)
	if f.err != nil {
		return openai.AudioResponse{}, f.err
	}
	return openai.AudioResponse{Text: f.text}, nil
}

type testServer struct {
	router      http.Handler
	completions *service.CompletionService
	transcriber *fakeTranscriber
	llm         *echoClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "murmur.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sealer, err := secret.New(bytes.Repeat([]byte{7}, secret.KeySize))
	require.NoError(t, err)

	log := logger.Nop()
	bus := natsclient.NopBus{}
	echo := &echoClient{tokens: []string{"Hi", " there"}}
	reg := llm.NewRegistry(map[string]llm.Client{"openai": echo}, "openai:gpt-4o")
	conversations := service.NewConversationService(st, bus, log)
	agents := service.NewAgentService(st, log)
	completions := service.NewCompletionService(st, fixedRegistry{reg}, bus, service.CompletionOptions{
		SystemPrompt: "be helpful",
		MaxTokens:    100,
		Agents:       agents,
	}, log)
	catalog := service.NewCatalogService(st, sealer, bus, log)
	transcriber := &fakeTranscriber{text: "hello world"}
	speech := service.NewSpeechServiceWithClient(transcriber, "whisper", log)

	ch := NewConversationHandler(conversations, log)
	sh := NewStreamHandler(completions, log)
	cat := NewCatalogHandler(catalog, log)
	sp := NewSpeechHandler(speech, log)
	eh := NewEventHandler(conversations, bus, log)
	ah := NewAgentHandler(agents, log)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), r.Header.Get("X-Test-User"))))
		})
	})
	r.Post("/chat", sh.Chat)
	r.Post("/speech", sp.SpeechToText)
	r.Get("/model-registry", cat.Registry)
	r.Post("/conversations", ch.Create)
	r.Get("/conversations", ch.List)
	r.Get("/conversations/{id}", ch.Get)
	r.Put("/conversations/{id}", ch.Update)
	r.Delete("/conversations/{id}", ch.Delete)
	r.Get("/conversations/{id}/messages", ch.Messages)
	r.Get("/conversations/{id}/events", eh.List)
	r.Post("/providers", cat.CreateProvider)
	r.Get("/providers/{id}", cat.GetProvider)
	r.Post("/models", cat.CreateModel)
	r.Post("/models/{id}/set-default", cat.SetDefaultModel)
	r.Post("/agents", ah.Create)
	r.Get("/agents", ah.List)
	r.Get("/agents/default", ah.Default)
	r.Get("/agents/{id}", ah.Get)
	r.Put("/agents/{id}", ah.Update)
	r.Delete("/agents/{id}", ah.Delete)
	r.Post("/agents/{id}/set-default", ah.SetDefault)

	return &testServer{router: r, completions: completions, transcriber: transcriber, llm: echo}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	return events
}

func TestChatStreamsAndPersists(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/chat", "alice", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "Greet me\nplease"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "conversation", events[0].name)
	assert.Equal(t, "token", events[1].name)
	assert.Equal(t, "token", events[2].name)
	assert.Equal(t, "done", events[3].name)

	var started model.ConversationStartedEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &started))
	assert.NotEmpty(t, started.ConversationID)
	assert.Equal(t, "openai:gpt-4o", started.ModelID)

	var tok model.TokenEvent
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &tok))
	assert.Equal(t, " there", tok.Token)
	assert.Equal(t, 1, tok.Index)

	s.completions.Wait()

	rec = s.do(t, http.MethodGet, "/conversations/"+started.ConversationID+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs model.ConversationMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "Hi there", msgs.Messages[1].Content)

	rec = s.do(t, http.MethodGet, "/conversations/"+started.ConversationID, "alice", nil)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "Greet me", conv.Title)

	rec = s.do(t, http.MethodGet, "/conversations/"+started.ConversationID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatUnknownModel(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/chat", "alice", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"model_id": "anthropic:claude",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "model_not_available")

	rec = s.do(t, http.MethodGet, "/conversations", "alice", nil)
	var list model.ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Zero(t, list.Total)
}

func TestChatRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/chat", "alice", map[string]interface{}{"messages": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/chat", "alice", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"model_id": "no-colon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/chat", "alice", map[string]interface{}{
		"messages":        []map[string]string{{"role": "user", "content": "hi"}},
		"conversation_id": "has spaces",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/conversations", "alice", map[string]string{"id": "kitchen", "title": "Recipes"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversations", "alice", map[string]string{"id": "kitchen"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, "/conversations/kitchen", "alice", map[string]string{"title": "Dinner"})
	require.Equal(t, http.StatusOK, rec.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "Dinner", conv.Title)

	rec = s.do(t, http.MethodGet, "/conversations/kitchen/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)

	rec = s.do(t, http.MethodDelete, "/conversations/kitchen", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/conversations/kitchen", "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/conversations/kitchen", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsDisabledWithoutBus(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/conversations", "alice", map[string]string{"id": "c1"})

	rec := s.do(t, http.MethodGet, "/conversations/c1/events", "alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/providers", "admin", map[string]string{
		"id": "groq", "name": "Groq", "api_key": "gsk_secret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "gsk_secret")

	rec = s.do(t, http.MethodPost, "/models", "admin", map[string]string{
		"id": "groq:llama-3.3", "provider_id": "groq", "name": "Llama 3.3",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/models", "admin", map[string]string{
		"id": "openai:gpt-4o", "provider_id": "groq", "name": "mismatch",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/models/groq:llama-3.3/set-default", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var selected model.ModelDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &selected))
	assert.Equal(t, "groq:llama-3.3", selected.ID)
	assert.Equal(t, "groq", selected.ProviderID)
	assert.True(t, selected.IsDefault)

	rec = s.do(t, http.MethodPost, "/models/groq:missing/set-default", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/model-registry", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view model.ModelRegistryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.AvailableModels, 1)
	assert.Equal(t, "groq", view.AvailableModels[0].ID)
	require.NotNil(t, view.DefaultModelID)
	assert.Equal(t, "groq:llama-3.3", *view.DefaultModelID)

	rec = s.do(t, http.MethodGet, "/providers/missing", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func speechRequest(t *testing.T, field string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "recording.wav")
	require.NoError(t, err)
	fw.Write([]byte("RIFFdata"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/speech", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", "alice")
	return req
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	*httptest.ResponseRecorder
	writes int
}

func (w *brokenWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func (w *brokenWriter) Flush() {}

func TestChatStopsWhenFirstEventFails(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "alice")

	w := &brokenWriter{ResponseRecorder: httptest.NewRecorder()}
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, w.writes)
	assert.Zero(t, s.llm.calls)
}

func TestSpeechToText(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, speechRequest(t, "audio"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"hello world"}`, rec.Body.String())
	assert.Equal(t, []byte("RIFFdata"), s.transcriber.got)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, speechRequest(t, "file"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.transcriber.err = errors.New("quota")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, speechRequest(t, "audio"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream speech-to-text failed: quota"}`, rec.Body.String())
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthAndReady(t *testing.T) {
	ok := NewHealthHandler(pingFunc(func(context.Context) error { return nil }), nil)
	rec := httptest.NewRecorder()
	ok.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("closed") }), nil)
	rec = httptest.NewRecorder()
	down.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	down.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAgentsScopeSystemMessage(t *testing.T) {
	s := newTestServer(t)
	chatOnce := func(user string, extra map[string]interface{}) {
		t.Helper()
		body := map[string]interface{}{"messages": []map[string]string{{"role": "user", "content": "hi"}}}
		for k, v := range extra {
			body[k] = v
		}
		rec := s.do(t, http.MethodPost, "/chat", user, body)
		require.Equal(t, http.StatusOK, rec.Code)
		s.completions.Wait()
	}

	chatOnce("alice", nil)
	assert.Equal(t, "be helpful", s.llm.system)

	rec := s.do(t, http.MethodPost, "/agents", "alice", map[string]interface{}{
		"name": "Pirate", "system_message": "Talk like a pirate.", "is_default": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var pirate model.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pirate))
	assert.True(t, pirate.IsDefault)

	rec = s.do(t, http.MethodPost, "/agents", "alice", map[string]interface{}{
		"name": "Pirate", "system_message": "dup",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/agents", "alice", map[string]interface{}{"name": "Empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/agents", "alice", map[string]interface{}{
		"name": "Terse", "system_message": "One sentence only.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var terse model.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &terse))

	chatOnce("alice", nil)
	assert.Equal(t, "Talk like a pirate.", s.llm.system)
	chatOnce("alice", map[string]interface{}{"agent_id": terse.ID})
	assert.Equal(t, "One sentence only.", s.llm.system)
	chatOnce("alice", map[string]interface{}{"agent_id": terse.ID, "system": "explicit"})
	assert.Equal(t, "explicit", s.llm.system)

	// Another user's default is independent and their agents are invisible.
	chatOnce("bob", nil)
	assert.Equal(t, "be helpful", s.llm.system)
	rec = s.do(t, http.MethodPost, "/chat", "bob", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"agent_id": terse.ID,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/agents/"+terse.ID+"/set-default", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/agents/"+terse.ID+"/set-default", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var selected model.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &selected))
	assert.Equal(t, terse.ID, selected.ID)
	assert.True(t, selected.IsDefault)

	rec = s.do(t, http.MethodGet, "/agents/default", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var def model.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.Equal(t, terse.ID, def.ID)

	rec = s.do(t, http.MethodGet, "/agents", "alice", nil)
	var list model.ListAgentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Agents, 2)
	defaults := 0
	for _, a := range list.Agents {
		if a.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	rec = s.do(t, http.MethodGet, "/agents/default", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/agents/"+pirate.ID, "alice", map[string]interface{}{"name": "Terse"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/agents/"+terse.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	chatOnce("alice", nil)
	assert.Equal(t, "be helpful", s.llm.system)
}
