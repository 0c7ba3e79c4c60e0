package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/auth"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/storage"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/ws"

	"github.com/gorilla/websocket"
)

type testEnv struct {
	server *httptest.Server
	auth   *auth.AuthService
	store  *storage.BboltStorage
	alice  models.User
	bob    models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := storage.NewBboltStorage(t.TempDir() + "/chatpro.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authService, err := auth.NewAuthService(ctx, auth.Config{Secret: "integration-test-secret"}, store)
	require.NoError(t, err)

	alice, err := authService.AddUser("alice", "Alice", "password-a")
	require.NoError(t, err)
	bob, err := authService.AddUser("bob", "Bob", "password-b")
	require.NoError(t, err)

	require.NoError(t, store.UpsertChat(models.Chat{
		ID:           "standup",
		Name:         "Standup",
		IsGroup:      true,
		Participants: []string{alice.ID, bob.ID},
	}))

	hub := ws.NewHub(ctx, store, ws.NewMemoryDirectory())
	srv := ws.NewServer(authService, hub)

	server := httptest.NewServer(http.HandlerFunc(srv.HandleConnections))
	t.Cleanup(server.Close)

	return &testEnv{server: server, auth: authService, store: store, alice: alice, bob: bob}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http")
}

func (e *testEnv) dial(t *testing.T, user models.User) *websocket.Conn {
	t.Helper()
	token, err := e.auth.IssueToken(user)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads server frames until one of the wanted type arrives.
// Presence updates interleave with everything else, so callers name the
// type they are waiting for.
func readFrame(t *testing.T, conn *websocket.Conn, frameType models.ServerFrameType) models.ServerFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var frame models.ServerFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestServer_RejectsUnauthenticatedHandshake(t *testing.T) {
	env := newTestEnv(t)

	tests := map[string]http.Header{
		"no credentials": nil,
		"garbage token":  {"Authorization": []string{"Bearer not-a-jwt"}},
		"wrong scheme":   {"Authorization": []string{"Basic abc"}},
		"empty bearer":   {"Authorization": []string{"Bearer "}},
	}

	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
			require.Error(t, err)
			require.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestServer_CrossOriginHandshakeRefused(t *testing.T) {
	env := newTestEnv(t)

	// A valid token rides the handshake; the Origin alone decides.
	token, err := env.auth.IssueToken(env.alice)
	require.NoError(t, err)

	t.Run("foreign origin refused", func(t *testing.T) {
		header := http.Header{
			"Authorization": []string{"Bearer " + token},
			"Origin":        []string{"http://evil.example.net"},
		}
		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
		require.Error(t, err)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("same origin accepted", func(t *testing.T) {
		header := http.Header{
			"Authorization": []string{"Bearer " + token},
			"Origin":        []string{env.server.URL},
		}
		conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
		require.NoError(t, err)
		conn.Close()
	})
}

func TestServer_TokenInQueryParameter(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.auth.IssueToken(env.alice)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_MessageRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	aliceConn := env.dial(t, env.alice)
	bobConn := env.dial(t, env.bob)

	join := models.ClientFrame{Type: models.ClientFrameJoin, RoomID: "standup"}
	require.NoError(t, aliceConn.WriteJSON(join))
	require.NoError(t, bobConn.WriteJSON(join))

	// No join ack exists, so let both joins land before sending.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, aliceConn.WriteJSON(models.ClientFrame{
		Type:   models.ClientFrameSend,
		RoomID: "standup",
		Body:   "morning @bob",
	}))

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		frame := readFrame(t, conn, models.ServerFrameMessage)
		require.NotNil(t, frame.Message)
		assert.Equal(t, "morning @bob", frame.Message.Body)
		assert.Equal(t, env.alice.ID, frame.Message.SenderID)
		assert.Equal(t, "standup", frame.Message.RoomID)
		assert.NotEmpty(t, frame.Message.ID)
		assert.Equal(t, []string{env.bob.ID}, frame.Message.Mentions)
	}

	// The message survived the round trip into storage.
	stored, err := env.store.ListMessages("standup", 1, 100)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "morning @bob", stored[0].Body)
}

func TestServer_NotificationForBackgroundedParticipant(t *testing.T) {
	env := newTestEnv(t)

	aliceConn := env.dial(t, env.alice)
	bobConn := env.dial(t, env.bob)

	// Only alice joins; bob is connected but not viewing the room.
	require.NoError(t, aliceConn.WriteJSON(models.ClientFrame{Type: models.ClientFrameJoin, RoomID: "standup"}))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, aliceConn.WriteJSON(models.ClientFrame{
		Type:   models.ClientFrameSend,
		RoomID: "standup",
		Body:   "anyone around?",
	}))

	frame := readFrame(t, bobConn, models.ServerFrameNotification)
	require.NotNil(t, frame.Notification)
	assert.Equal(t, "standup", frame.Notification.RoomID)
	assert.Equal(t, "anyone around?", frame.Notification.Preview)
	assert.Equal(t, "Alice", frame.Notification.SenderName)
	assert.Equal(t, int64(1), frame.Notification.Count)

	// The ledger survives bob's session.
	entries, err := env.store.ListUnseen(env.bob.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Count)
}

func TestServer_OutsiderCannotJoin(t *testing.T) {
	env := newTestEnv(t)

	mallory, err := env.auth.AddUser("mallory", "Mallory", "password-m")
	require.NoError(t, err)

	conn := env.dial(t, mallory)
	require.NoError(t, conn.WriteJSON(models.ClientFrame{Type: models.ClientFrameJoin, RoomID: "standup"}))

	frame := readFrame(t, conn, models.ServerFrameError)
	assert.NotEmpty(t, frame.Error)
}

func TestServer_PresenceBroadcast(t *testing.T) {
	env := newTestEnv(t)

	bobConn := env.dial(t, env.bob)

	aliceConn := env.dial(t, env.alice)

	// Bob may also see his own status update, so wait for alice's.
	waitStatus := func(online bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			require.NoError(t, bobConn.SetReadDeadline(deadline))
			var frame models.ServerFrame
			require.NoError(t, bobConn.ReadJSON(&frame))
			if frame.Type == models.ServerFrameStatus && frame.UserID == env.alice.ID && frame.Online == online {
				return
			}
		}
	}

	waitStatus(true)

	aliceConn.Close()

	waitStatus(false)
}
