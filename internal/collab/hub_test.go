package collab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casewire/collab-server-go/internal/audit"
	"github.com/casewire/collab-server-go/internal/config"
	"github.com/casewire/collab-server-go/internal/model"
	"github.com/casewire/collab-server-go/internal/ratelimit"
	"github.com/casewire/collab-server-go/internal/session"
)

type hubFixture struct {
	hub      *Hub
	sessions *session.Store
	server   *httptest.Server
}

func newHubFixture(t *testing.T, limit int) *hubFixture {
	t.Helper()

	sessions := session.NewStore(time.Hour)
	limiter := ratelimit.NewLimiter(limit, time.Minute)
	hub := NewHub(sessions, limiter, nil, audit.NewRecorder(nil), nil)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
	})

	return &hubFixture{hub: hub, sessions: sessions, server: server}
}

func (f *hubFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *hubFixture) token(t *testing.T, userID, username string) string {
	t.Helper()
	token, _, err := f.sessions.Create(model.CreateSessionParams{UserID: userID, Username: username})
	require.NoError(t, err)
	return token
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// dialAuthed connects and authenticates with an in-band auth frame.
func (f *hubFixture) dialAuthed(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	ws := f.dial(t)
	sendFrame(t, ws, &Message{Type: TypeAuth, Token: f.token(t, userID, username)})
	msg := waitFor(t, ws, TypeAuthSuccess)
	require.Equal(t, userID, msg.UserID)
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, msg *Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

// waitFor reads frames until one of the wanted type arrives. Interleaved
// presence updates and pongs are skipped.
func waitFor(t *testing.T, ws *websocket.Conn, want MessageType) *Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)

		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == want {
			return &msg
		}
	}
}

// waitForClose reads until the peer closes and returns the close code.
func waitForClose(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected close error, got %v", err)
		return closeErr.Code
	}
}

func TestHubAuth(t *testing.T) {
	t.Run("valid token authenticates", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dial(t)

		sendFrame(t, ws, &Message{Type: TypeAuth, Token: f.token(t, "user-1", "Alice")})

		msg := waitFor(t, ws, TypeAuthSuccess)
		assert.Equal(t, "user-1", msg.UserID)
		assert.Equal(t, "Alice", msg.UserName)
	})

	t.Run("invalid token closes with 4003", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dial(t)

		sendFrame(t, ws, &Message{Type: TypeAuth, Token: "never-issued"})

		assert.Equal(t, CloseAuthFailed, waitForClose(t, ws))
	})

	t.Run("non-auth frame before auth closes with 4001", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dial(t)

		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 1})

		assert.Equal(t, CloseAuthRequired, waitForClose(t, ws))
	})

	t.Run("session cookie authenticates at upgrade", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		token := f.token(t, "user-1", "Alice")

		header := http.Header{}
		header.Set("Cookie", SessionCookie+"="+token)
		ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
		require.NoError(t, err)
		t.Cleanup(func() { ws.Close() })

		// No auth frame needed: a join goes straight through.
		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 5})
		msg := waitFor(t, ws, TypePresence)
		require.Len(t, msg.Users, 1)
		assert.Equal(t, "user-1", msg.Users[0].ID)
	})

	t.Run("second auth frame is rejected", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dialAuthed(t, "user-1", "Alice")

		sendFrame(t, ws, &Message{Type: TypeAuth, Token: f.token(t, "user-1", "Alice")})

		msg := waitFor(t, ws, TypeError)
		assert.Contains(t, msg.Message, "already authenticated")
	})
}

func TestHubJoinAndPresence(t *testing.T) {
	t.Run("join broadcasts the roster to everyone in the case", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		alice := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, alice, &Message{Type: TypeJoin, CaseID: 7})
		first := waitFor(t, alice, TypePresence)
		require.Len(t, first.Users, 1)

		bob := f.dialAuthed(t, "user-2", "Bob")
		sendFrame(t, bob, &Message{Type: TypeJoin, CaseID: 7})

		fromBob := waitFor(t, bob, TypePresence)
		require.Len(t, fromBob.Users, 2)

		fromAlice := waitFor(t, alice, TypePresence)
		require.Len(t, fromAlice.Users, 2)
		assert.Equal(t, "Alice", fromAlice.Users[0].Name)
		assert.Equal(t, "Bob", fromAlice.Users[1].Name)
	})

	t.Run("leave shrinks the roster", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		alice := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, alice, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, alice, TypePresence)

		bob := f.dialAuthed(t, "user-2", "Bob")
		sendFrame(t, bob, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, alice, TypePresence)

		sendFrame(t, bob, &Message{Type: TypeLeave})

		msg := waitFor(t, alice, TypePresence)
		require.Len(t, msg.Users, 1)
		assert.Equal(t, "user-1", msg.Users[0].ID)
	})

	t.Run("disconnect without leave also shrinks the roster", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		alice := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, alice, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, alice, TypePresence)

		bob := f.dialAuthed(t, "user-2", "Bob")
		sendFrame(t, bob, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, alice, TypePresence)

		bob.Close()

		msg := waitFor(t, alice, TypePresence)
		assert.Len(t, msg.Users, 1)
	})

	t.Run("switching cases moves the member", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		ws := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 1})
		waitFor(t, ws, TypePresence)

		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 2})
		waitFor(t, ws, TypePresence)

		assert.Empty(t, f.hub.CasePresence(1))
		require.Len(t, f.hub.CasePresence(2), 1)
	})

	t.Run("CasePresence reflects live membership", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		ws := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 9})
		waitFor(t, ws, TypePresence)

		members := f.hub.CasePresence(9)
		require.Len(t, members, 1)
		assert.Equal(t, "Alice", members[0].Name)
		assert.NotEmpty(t, members[0].Color)
	})
}

func TestHubRelay(t *testing.T) {
	joinedPair := func(t *testing.T, f *hubFixture, caseID int64) (*websocket.Conn, *websocket.Conn) {
		alice := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, alice, &Message{Type: TypeJoin, CaseID: caseID})
		waitFor(t, alice, TypePresence)

		bob := f.dialAuthed(t, "user-2", "Bob")
		sendFrame(t, bob, &Message{Type: TypeJoin, CaseID: caseID})
		waitFor(t, bob, TypePresence)
		waitFor(t, alice, TypePresence)
		return alice, bob
	}

	t.Run("chat reaches peers with sender identity", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		alice, bob := joinedPair(t, f, 7)

		sendFrame(t, bob, &Message{Type: TypeChat, Content: "motion filed"})

		msg := waitFor(t, alice, TypeChat)
		assert.Equal(t, "user-2", msg.UserID)
		assert.Equal(t, "Bob", msg.UserName)
		assert.NotEmpty(t, msg.UserColor)
		assert.Equal(t, "motion filed", msg.Content)
	})

	t.Run("sender does not receive its own chat", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		_, bob := joinedPair(t, f, 7)

		sendFrame(t, bob, &Message{Type: TypeChat, Content: "hello"})

		// A ping round trip proves the chat was not echoed back.
		sendFrame(t, bob, &Message{Type: TypePing})
		bob.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := bob.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, TypePong, msg.Type)
	})

	t.Run("cursor carries color and data", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		alice, bob := joinedPair(t, f, 7)

		sendFrame(t, bob, &Message{Type: TypeCursor, Data: json.RawMessage(`{"x":10,"y":20}`)})

		msg := waitFor(t, alice, TypeCursor)
		assert.Equal(t, "user-2", msg.UserID)
		assert.NotEmpty(t, msg.UserColor)
		assert.JSONEq(t, `{"x":10,"y":20}`, string(msg.Data))
	})

	t.Run("chat content is sanitized", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		alice, bob := joinedPair(t, f, 7)

		sendFrame(t, bob, &Message{Type: TypeChat, Content: "cle\x00an"})

		msg := waitFor(t, alice, TypeChat)
		assert.Equal(t, "clean", msg.Content)
	})

	t.Run("relay without join is rejected", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dialAuthed(t, "user-1", "Alice")

		sendFrame(t, ws, &Message{Type: TypeChat, Content: "too early"})

		msg := waitFor(t, ws, TypeError)
		assert.Contains(t, msg.Message, "not joined")
	})

	t.Run("messages stay inside their case", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		alice := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, alice, &Message{Type: TypeJoin, CaseID: 1})
		waitFor(t, alice, TypePresence)

		carol := f.dialAuthed(t, "user-3", "Carol")
		sendFrame(t, carol, &Message{Type: TypeJoin, CaseID: 2})
		waitFor(t, carol, TypePresence)

		sendFrame(t, carol, &Message{Type: TypeChat, Content: "case 2 only"})

		sendFrame(t, alice, &Message{Type: TypePing})
		msg := waitFor(t, alice, TypePong)
		assert.Equal(t, TypePong, msg.Type)
	})
}

func TestHubProtocolTolerance(t *testing.T) {
	t.Run("oversize frame gets an error, connection survives", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dialAuthed(t, "user-1", "Alice")

		huge := `{"type":"chat","content":"` + strings.Repeat("a", maxFrameBytes) + `"}`
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(huge)))

		msg := waitFor(t, ws, TypeError)
		assert.Contains(t, msg.Message, "byte limit")

		sendFrame(t, ws, &Message{Type: TypePing})
		waitFor(t, ws, TypePong)
	})

	t.Run("malformed frame is dropped silently", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dialAuthed(t, "user-1", "Alice")

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

		sendFrame(t, ws, &Message{Type: TypePing})
		waitFor(t, ws, TypePong)
	})

	t.Run("unknown type is dropped silently", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		ws := f.dialAuthed(t, "user-1", "Alice")

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"drop-tables"}`)))

		sendFrame(t, ws, &Message{Type: TypePing})
		waitFor(t, ws, TypePong)
	})
}

func TestHubRateLimit(t *testing.T) {
	t.Run("excess messages get an error frame", func(t *testing.T) {
		f := newHubFixture(t, 3)
		ws := f.dialAuthed(t, "user-1", "Alice")

		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, ws, TypePresence)
		sendFrame(t, ws, &Message{Type: TypePing})
		waitFor(t, ws, TypePong)
		sendFrame(t, ws, &Message{Type: TypePing})
		waitFor(t, ws, TypePong)

		sendFrame(t, ws, &Message{Type: TypePing})
		msg := waitFor(t, ws, TypeError)
		assert.Contains(t, msg.Message, "Rate limit")
	})

	t.Run("limited connection stays open", func(t *testing.T) {
		f := newHubFixture(t, 1)
		ws := f.dialAuthed(t, "user-1", "Alice")

		sendFrame(t, ws, &Message{Type: TypePing})
		waitFor(t, ws, TypePong)
		sendFrame(t, ws, &Message{Type: TypePing})
		waitFor(t, ws, TypeError)

		// Still connected: the next read times out instead of seeing a close.
		ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, _, err := ws.ReadMessage()
		require.Error(t, err)
		var closeErr *websocket.CloseError
		assert.NotErrorAs(t, err, &closeErr)
	})
}

func TestHubNotifyCaseUpdate(t *testing.T) {
	t.Run("members receive the update with its kind", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		ws := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, ws, TypePresence)

		f.hub.NotifyCaseUpdate(7, "document_uploaded", map[string]any{"fileId": "f-123"})

		msg := waitFor(t, ws, TypeUpdate)
		assert.Equal(t, int64(7), msg.CaseID)

		var data map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "document_uploaded", data["updateType"])
		assert.Equal(t, "f-123", data["fileId"])
	})

	t.Run("empty case is a no-op", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)
		assert.NotPanics(t, func() {
			f.hub.NotifyCaseUpdate(99, "document_uploaded", nil)
		})
	})

	t.Run("nil payload still carries the kind", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		ws := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, ws, TypePresence)

		f.hub.NotifyCaseUpdate(7, "case_reassigned", nil)

		msg := waitFor(t, ws, TypeUpdate)
		var data map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "case_reassigned", data["updateType"])
	})
}

func TestHubShutdown(t *testing.T) {
	t.Run("closes all connections", func(t *testing.T) {
		f := newHubFixture(t, config.MessageRateLimit)

		ws := f.dialAuthed(t, "user-1", "Alice")
		sendFrame(t, ws, &Message{Type: TypeJoin, CaseID: 7})
		waitFor(t, ws, TypePresence)

		f.hub.Shutdown()

		assert.Equal(t, websocket.CloseGoingAway, waitForClose(t, ws))
	})
}
