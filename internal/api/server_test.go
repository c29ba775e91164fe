package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
	"chatrelay/internal/testutil"
	"chatrelay/pkg/types"
)

type nopEmitter struct{}

func (nopEmitter) EmitToUser(types.UserID, string, any) error { return nil }

type fixture struct {
	server   *Server
	store    *testutil.MemoryStore
	registry *registry.Registry
	relay    *relay.Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemoryStore()
	reg := registry.NewRegistry()
	rel := relay.New(store, nopEmitter{}, zerolog.Nop())
	return &fixture{
		server:   NewServer(store, reg, rel, nil, zerolog.Nop()),
		store:    store,
		registry: reg,
		relay:    rel,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServer_HealthCheck(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Join(testutil.NewRecordingConnection("c1"), 7)
	require.NoError(t, err)

	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Database)
	assert.Equal(t, 1, resp.Connections["online_users"])
	assert.Equal(t, 1, resp.Connections["total_connections"])
}

func TestServer_HealthCheckUnhealthyStore(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith(errors.New("disk gone"))

	w := f.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Database, "disk gone")
}

func TestServer_ListOnline(t *testing.T) {
	f := newFixture(t)

	resp := decode[map[string]json.RawMessage](t, f.get(t, "/api/presence"))
	assert.JSONEq(t, `[]`, string(resp["userIds"]), "empty list is an array, not null")

	_, err := f.registry.Join(testutil.NewRecordingConnection("c2"), 2)
	require.NoError(t, err)
	_, err = f.registry.Join(testutil.NewRecordingConnection("c1"), 1)
	require.NoError(t, err)

	online := decode[OnlineUsersResponse](t, f.get(t, "/api/presence"))
	assert.Equal(t, []types.UserID{1, 2}, online.UserIDs)
}

func TestServer_GetPresence(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Join(testutil.NewRecordingConnection("c1"), 3)
	require.NoError(t, err)

	status := decode[types.OnlineStatus](t, f.get(t, "/api/presence/3"))
	assert.Equal(t, types.OnlineStatus{UserID: 3, IsOnline: true}, status)

	status = decode[types.OnlineStatus](t, f.get(t, "/api/presence/4"))
	assert.Equal(t, types.OnlineStatus{UserID: 4, IsOnline: false}, status)

	w := f.get(t, "/api/presence/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusBadRequest, decode[ErrorResponse](t, w).Code)
}

func TestServer_GetHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.relay.SendMessage(ctx, types.SendMessageRequest{SenderID: 1, ReceiverID: 2, Content: "hi"})
	require.NoError(t, err)
	_, err = f.relay.SendMessage(ctx, types.SendMessageRequest{SenderID: 2, ReceiverID: 1, Content: "hello"})
	require.NoError(t, err)
	_, err = f.relay.SendMessage(ctx, types.SendMessageRequest{SenderID: 1, ReceiverID: 3, Content: "elsewhere"})
	require.NoError(t, err)

	w := f.get(t, "/api/messages?userId=2&friendId=1")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HistoryResponse](t, w)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hi", resp.Messages[0].Content)
	assert.Equal(t, "hello", resp.Messages[1].Content)
}

func TestServer_GetHistoryEmpty(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/messages?userId=1&friendId=2")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]json.RawMessage](t, w)
	assert.JSONEq(t, `[]`, string(resp["messages"]))
}

func TestServer_GetHistoryBadQuery(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
	}{
		{"missing userId", "/api/messages?friendId=1"},
		{"missing friendId", "/api/messages?userId=1"},
		{"non-numeric", "/api/messages?userId=x&friendId=1"},
		{"zero", "/api/messages?userId=0&friendId=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Equal(t, 0, f.store.Calls("list"))
}

func TestServer_GetHistoryStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith(errors.New("connection refused"))

	w := f.get(t, "/api/messages?userId=1&friendId=2")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "failed to load chat history", resp.Message)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestServer_GetUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.relay.SendMessage(ctx, types.SendMessageRequest{SenderID: 1, ReceiverID: 2, Content: "ping"})
		require.NoError(t, err)
	}

	resp := decode[UnreadResponse](t, f.get(t, "/api/messages/unread?userId=2&fromUserId=1"))
	assert.Equal(t, int64(3), resp.Count)

	resp = decode[UnreadResponse](t, f.get(t, "/api/messages/unread?userId=1&fromUserId=2"))
	assert.Equal(t, int64(0), resp.Count)

	w := f.get(t, "/api/messages/unread?userId=2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatrelay_connections_active")
}

func TestServer_CORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_MountsWebSocketHandler(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer(testutil.NewMemoryStore(), registry.NewRegistry(), relay.New(testutil.NewMemoryStore(), nopEmitter{}, zerolog.Nop()), ws, zerolog.Nop())

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestServer_UnknownRoute(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/sessions").Code)
}
