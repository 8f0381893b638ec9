package link

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/msgcore/internal/envelope"
	"github.com/riftline/msgcore/internal/store/memstore"
)

type stubSigner struct{}

func (stubSigner) Sign(method, path string, body []byte) (string, error) {
	return "test-token", nil
}

// echoServer accepts one connection, decodes every incoming envelope, and
// mirrors it back verbatim with the same id.
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := envelope.Decode(frame)
			if err != nil {
				return
			}
			reply, _ := envelope.Encode(env)
			if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
				return
			}
		}
	}))
}

func TestLink_ConnectAndRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	l := New(Config{URL: wsURL, LocalUserID: "local", Signer: stubSigner{}, FloodStore: memstore.New()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := l.Connect(ctx, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, Connected, l.State())

	reply, err := l.SendMessage(ctx, &envelope.Envelope{ID: "req-1", Action: envelope.ActionCreateCall})
	require.NoError(t, err)
	assert.Equal(t, "req-1", reply.ID)
}

func TestLink_Connect_Idempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	l := New(Config{URL: wsURL, LocalUserID: "local", Signer: stubSigner{}, FloodStore: memstore.New()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, l.Connect(ctx, nil))
	defer l.Close()

	require.NoError(t, l.Connect(ctx, nil), "second Connect on an already-connected link is a no-op")
}
