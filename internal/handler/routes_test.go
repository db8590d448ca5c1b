package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interflow/internal/actions"
)

// actionsBackend записывает, что до него дошло от обработчиков.
type actionsBackend struct {
	mu       sync.Mutex
	paths    []string
	chatIDs  []string
	jsonBody map[string]any
}

func (b *actionsBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.paths = append(b.paths, r.Method+" "+r.URL.Path)
		ct := r.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(ct, "multipart/form-data"):
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				b.chatIDs = append(b.chatIDs, r.FormValue("chat_id"))
			}
		case strings.HasPrefix(ct, "application/json"):
			var body map[string]any
			if json.NewDecoder(r.Body).Decode(&body) == nil {
				b.jsonBody = body
				if id, ok := body["chat_id"].(string); ok {
					b.chatIDs = append(b.chatIDs, id)
				}
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}
}

func newRoutesEnv(t *testing.T) (*chi.Mux, *actionsBackend) {
	t.Helper()
	backend := &actionsBackend{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client := actions.NewClient(srv.URL, nil)
	r := chi.NewRouter()
	Routes(r,
		NewChatHandler(nil, nil),
		NewMessageHandler(nil, client, 20),
		NewActionsHandler(client),
		NewWSHandler(nil, "*"),
	)
	return r, backend
}

func TestRoutesSendPassesChatIDToBackend(t *testing.T) {
	router, backend := newRoutesEnv(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("content", "привет"))
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/chats/chat-42/messages", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, backend.chatIDs, 1)
	assert.Equal(t, "chat-42", backend.chatIDs[0])

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["temp_id"])
}

func TestRoutesTemplatePassesChatIDToBackend(t *testing.T) {
	router, backend := newRoutesEnv(t)

	body := strings.NewReader(`{"template_id":"tpl-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chats/chat-42/messages/template", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, backend.chatIDs, 1)
	assert.Equal(t, "chat-42", backend.chatIDs[0])
}

func TestRoutesDeletePassesMessageID(t *testing.T) {
	router, backend := newRoutesEnv(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/messages/msg-7", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, backend.paths, 1)
	assert.Equal(t, "DELETE /messages/msg-7", backend.paths[0])
}

func TestRoutesPauseFlowPassesSessionID(t *testing.T) {
	router, backend := newRoutesEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/flow-sessions/fs-9/pause", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, backend.paths, 1)
	assert.Equal(t, "POST /flows/fs-9/pause", backend.paths[0])
}

func TestRoutesResolvePassesChatID(t *testing.T) {
	router, backend := newRoutesEnv(t)

	body := strings.NewReader(`{"closure_type":"solved","title":"готово"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chats/chat-42/resolve", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, backend.paths, 1)
	assert.Equal(t, "POST /chats/chat-42/resolve", backend.paths[0])
}
