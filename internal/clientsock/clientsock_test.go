package clientsock

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, endpoint string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(toWSURL(endpoint), nil)
	require.NoError(t, err)
	return conn
}

func toWSURL(endpoint string) string {
	const prefix = "tcp://"
	return "ws://" + endpoint[len(prefix):] + "/"
}

func TestRecvDataSendResult_RoundTrip(t *testing.T) {
	s, err := New("local", "testnode")
	require.NoError(t, err)
	defer s.Close()

	conn := dial(t, s.Endpoint)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("circuit-json")))

	payload := s.RecvData()
	require.Equal(t, "circuit-json", payload)

	require.NoError(t, s.SendResult(`{"counts":{}}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, `{"counts":{}}`, string(data))
}

func TestRecvData_CloseMessageDropsConnection(t *testing.T) {
	s, err := New("local", "testnode")
	require.NoError(t, err)
	defer s.Close()

	conn := dial(t, s.Endpoint)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(Close)))

	payload := s.RecvData()
	require.Equal(t, Close, payload)
}

func TestSendResult_NoPendingClientErrors(t *testing.T) {
	s, err := New("local", "testnode")
	require.NoError(t, err)
	defer s.Close()

	err = s.SendResult("anything")
	require.Error(t, err)
	_, ok := err.(*ServerError)
	require.True(t, ok)
}
