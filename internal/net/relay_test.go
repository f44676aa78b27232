package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	relay := NewRelay()
	go relay.Run()
	srv := httptest.NewServer(relay.Router())
	t.Cleanup(srv.Close)
	return srv
}

// dialRelay connects and consumes the join notice.
func dialRelay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	var msg controlMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "info", msg.Type)
	return conn
}

func TestRelay_Healthz(t *testing.T) {
	srv := startRelay(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelay_BroadcastsBinaryToOtherClients(t *testing.T) {
	srv := startRelay(t)
	a := dialRelay(t, srv)
	b := dialRelay(t, srv)

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte("snapshot from a")))

	msgType, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte("snapshot from a"), data)
}

func TestRelay_DoesNotEchoToSender(t *testing.T) {
	srv := startRelay(t)
	a := dialRelay(t, srv)
	b := dialRelay(t, srv)

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte("one way")))

	// b sees the frame.
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("one way"), data)

	// a does not.
	a.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err = a.ReadMessage()
	assert.Error(t, err)
}

func TestRelay_TextFramesKeepTheirType(t *testing.T) {
	srv := startRelay(t)
	a := dialRelay(t, srv)
	b := dialRelay(t, srv)

	notice := `{"type":"info","message":"passing through"}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(notice)))

	msgType, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, notice, string(data))
}

func TestRelay_SurvivesClientChurn(t *testing.T) {
	srv := startRelay(t)
	a := dialRelay(t, srv)

	gone := dialRelay(t, srv)
	gone.Close()

	b := dialRelay(t, srv)
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte("still works")))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("still works"), data)
}
