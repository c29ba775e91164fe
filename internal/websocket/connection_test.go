package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

// echoServer returns a server-side connection and the client dialed to it.
func echoServer(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-serverConns:
		return c, client
	case <-time.After(time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func TestConnection_AssignsUniqueIDs(t *testing.T) {
	a, _ := echoServer(t)
	b, _ := echoServer(t)
	ca := NewConnection(a, 0, 0)
	cb := NewConnection(b, 0, 0)
	defer ca.Close()
	defer cb.Close()

	assert.NotEmpty(t, ca.ID())
	assert.NotEqual(t, ca.ID(), cb.ID())
	assert.Equal(t, defaultBufferSize, cap(ca.writeCh))
}

func TestConnection_SendWritesJSONFrame(t *testing.T) {
	server, client := echoServer(t)
	conn := NewConnection(server, 10, time.Second)
	defer conn.Close()

	require.NoError(t, conn.Send(types.OutboundEnvelope{Event: types.EventUserTyping, Data: types.TypingEvent{UserID: 3, IsTyping: true}}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"userTyping","data":{"userId":3,"isTyping":true}}`, string(data))
}

func TestConnection_SendPreservesOrder(t *testing.T) {
	server, client := echoServer(t)
	conn := NewConnection(server, 50, time.Second)
	defer conn.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, conn.Send(types.OutboundEnvelope{Event: "n", Data: i}))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 20; i++ {
		var env struct {
			Data int `json:"data"`
		}
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, i, env.Data)
	}
}

func TestConnection_SendNeverBlocks(t *testing.T) {
	// No writer goroutine: the buffer fills and stays full.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{writeCh: make(chan []byte, 1), ctx: ctx, cancel: cancel}

	require.NoError(t, conn.Send(types.OutboundEnvelope{Event: "a"}))

	done := make(chan error, 1)
	go func() { done <- conn.Send(types.OutboundEnvelope{Event: "b"}) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWriteBufferFull)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full buffer")
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	server, _ := echoServer(t)
	conn := NewConnection(server, 10, time.Second)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "second close is a no-op")

	assert.ErrorIs(t, conn.Send(types.OutboundEnvelope{Event: "x"}), ErrConnectionClosed)
	select {
	case <-conn.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestConnection_UnmarshalableData(t *testing.T) {
	server, _ := echoServer(t)
	conn := NewConnection(server, 10, time.Second)
	defer conn.Close()

	err := conn.Send(types.OutboundEnvelope{Event: "x", Data: make(chan int)})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}
