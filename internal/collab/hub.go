package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/audit"
	"github.com/casewire/collab-server-go/internal/config"
	apperrors "github.com/casewire/collab-server-go/internal/errors"
	"github.com/casewire/collab-server-go/internal/model"
	"github.com/casewire/collab-server-go/internal/ratelimit"
	"github.com/casewire/collab-server-go/internal/session"
)

// SessionCookie carries the session token on the upgrade request. A
// connection without it may still authenticate with an in-band auth frame
// inside the grace period.
const SessionCookie = "collab_session"

// Hub accepts websocket connections, runs the per-connection protocol and
// fans events out to every connection subscribed to a case. All presence
// state is in memory; nothing survives a restart.
type Hub struct {
	sessions *session.Store
	registry *Registry
	limiter  *ratelimit.Limiter
	fanout   *Fanout
	recorder *audit.Recorder
	upgrader websocket.Upgrader
}

func NewHub(sessions *session.Store, limiter *ratelimit.Limiter, fan *Fanout, recorder *audit.Recorder, allowedOrigins []string) *Hub {
	h := &Hub{
		sessions: sessions,
		registry: NewRegistry(),
		limiter:  limiter,
		fanout:   fan,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	if fan != nil {
		fan.deliver = h.deliverFanout
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWS upgrades the request and starts the connection's pumps. A valid
// session cookie authenticates immediately; otherwise the connection gets
// the grace period to send an auth frame before being closed with 4001.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("ip", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newConnection(h, ws, r.RemoteAddr, r.UserAgent())

	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		if sess := h.sessions.Validate(cookie.Value); sess != nil {
			c.state = stateAuthenticated
			c.userID = sess.UserID
			c.username = sess.Username
			h.recorder.Record(r.Context(), audit.Event{
				Type:   audit.EventConnectionAuthenticated,
				UserID: sess.UserID,
				IP:     c.remoteIP,
			})
		}
	}

	if c.state == statePendingAuth {
		c.authTimer = time.AfterFunc(config.AuthGracePeriod, func() {
			h.authTimeout(c)
		})
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) authTimeout(c *connection) {
	c.mu.Lock()
	pending := c.state == statePendingAuth
	if pending {
		c.state = stateClosed
	}
	c.mu.Unlock()

	if !pending {
		return
	}
	log.Debug().Str("ip", c.remoteIP).Msg("closing connection: auth grace period elapsed")
	c.close(CloseAuthRequired, "authentication timeout")
}

// handleFrame runs on the connection's read goroutine; frames from one
// connection are processed strictly in order.
func (h *Hub) handleFrame(c *connection, raw []byte) {
	if len(raw) > maxFrameBytes {
		c.sendError(apperrors.MessageTooLarge(maxFrameBytes))
		return
	}

	msg, err := ParseClientMessage(raw)
	if err != nil {
		// Malformed input never costs the connection.
		log.Debug().Err(err).Str("ip", c.remoteIP).Msg("dropping invalid frame")
		return
	}

	if msg.Type == TypeAuth {
		h.handleAuth(c, msg)
		return
	}

	state, userID, _, _ := c.snapshot()
	if state == stateClosed {
		return
	}
	if state == statePendingAuth {
		c.sendError(apperrors.Unauthorized("Authentication required"))
		c.close(CloseAuthRequired, "authentication required")
		return
	}

	if !h.limiter.Allow(userID) {
		log.Warn().Str("userId", userID).Msg("message rate limit exceeded")
		c.sendError(apperrors.RateLimitExceeded())
		return
	}

	h.registry.Touch(c)

	switch msg.Type {
	case TypeJoin:
		h.handleJoin(c, msg)
	case TypeLeave:
		h.handleLeave(c)
	case TypeUpdate, TypeCursor, TypeChat:
		h.handleRelay(c, msg)
	case TypePing:
		c.sendMessage(&Message{Type: TypePong})
	}
}

func (h *Hub) handleAuth(c *connection, msg *Message) {
	c.mu.Lock()
	if c.state != statePendingAuth {
		c.mu.Unlock()
		c.sendError(apperrors.ProtocolViolation("already authenticated"))
		return
	}
	c.mu.Unlock()

	sess := h.sessions.Validate(msg.Token)
	if sess == nil {
		h.recorder.Record(context.Background(), audit.Event{
			Type: audit.EventAuthFailure,
			IP:   c.remoteIP,
		})
		c.sendError(apperrors.InvalidToken("Invalid or expired session token"))
		c.close(CloseAuthFailed, "authentication failed")
		return
	}

	c.mu.Lock()
	if c.state != statePendingAuth {
		c.mu.Unlock()
		return
	}
	c.state = stateAuthenticated
	c.userID = sess.UserID
	c.username = sess.Username
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.mu.Unlock()

	h.recorder.Record(context.Background(), audit.Event{
		Type:   audit.EventConnectionAuthenticated,
		UserID: sess.UserID,
		IP:     c.remoteIP,
	})
	c.sendMessage(&Message{Type: TypeAuthSuccess, UserID: sess.UserID, UserName: sess.Username})
}

func (h *Hub) handleJoin(c *connection, msg *Message) {
	_, userID, username, oldCase := c.snapshot()

	p := h.registry.Join(c, msg.CaseID, userID, username, true)

	c.mu.Lock()
	c.state = stateJoined
	c.caseID = msg.CaseID
	c.color = p.Color
	c.mu.Unlock()

	if h.fanout != nil {
		h.fanout.Subscribe(msg.CaseID)
	}

	h.recorder.Record(context.Background(), audit.Event{
		Type:         audit.EventCaseJoined,
		UserID:       userID,
		ResourceType: "case",
		ResourceID:   strconv.FormatInt(msg.CaseID, 10),
		IP:           c.remoteIP,
	})

	h.broadcastPresence(msg.CaseID)

	if oldCase != 0 && oldCase != msg.CaseID {
		h.afterCaseShrink(oldCase)
	}
}

func (h *Hub) handleLeave(c *connection) {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()

	c.close(websocket.CloseNormalClosure, "left")
	h.deregister(c)
}

func (h *Hub) handleRelay(c *connection, msg *Message) {
	c.mu.Lock()
	joined := c.state == stateJoined
	userID, username, color, caseID := c.userID, c.username, c.color, c.caseID
	c.mu.Unlock()

	if !joined {
		c.sendError(apperrors.NotJoined())
		return
	}

	out := &Message{Type: msg.Type, CaseID: caseID, UserID: userID}
	switch msg.Type {
	case TypeUpdate:
		out.Data = msg.Data
	case TypeCursor:
		out.UserColor = color
		out.Data = msg.Data
	case TypeChat:
		out.UserName = username
		out.UserColor = color
		out.Content = SanitizeChat(msg.Content)
	}

	h.broadcastToCase(caseID, out, c)
}

// dropConnection is called when the read pump exits for any reason. It is
// idempotent with handleLeave.
func (h *Hub) dropConnection(c *connection) {
	c.mu.Lock()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.state = stateClosed
	c.mu.Unlock()

	h.deregister(c)
}

func (h *Hub) deregister(c *connection) {
	p, ok := h.registry.Leave(c)
	if !ok {
		return
	}

	h.recorder.Record(context.Background(), audit.Event{
		Type:         audit.EventCaseLeft,
		UserID:       p.IdentityID,
		ResourceType: "case",
		ResourceID:   strconv.FormatInt(p.CaseID, 10),
		IP:           c.remoteIP,
	})
	h.afterCaseShrink(p.CaseID)
}

// afterCaseShrink re-broadcasts the roster after a case lost a connection
// and drops the fanout subscription once the case is empty locally.
func (h *Hub) afterCaseShrink(caseID int64) {
	if h.fanout != nil && h.registry.ConnCount(caseID) == 0 {
		h.fanout.Unsubscribe(caseID)
	}
	h.broadcastPresence(caseID)
}

func (h *Hub) broadcastPresence(caseID int64) {
	members := h.registry.PresenceFor(caseID)
	h.broadcastToCase(caseID, &Message{Type: TypePresence, CaseID: caseID, Users: members}, nil)
}

// broadcastToCase delivers msg to every connection in the case except the
// sender, iterating a membership snapshot so concurrent joins and leaves
// cannot corrupt the fan-out.
func (h *Hub) broadcastToCase(caseID int64, msg *Message, except *connection) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Int64("caseId", caseID).Msg("failed to marshal broadcast frame")
		return
	}
	for _, peer := range h.registry.Snapshot(caseID) {
		if peer != except {
			peer.sendRaw(data)
		}
	}
}

// NotifyCaseUpdate pushes a server-initiated update into the hub on behalf
// of non-socket code. It is fire-and-forget: broadcasting to an empty case
// is a no-op and no failure propagates back to the caller.
func (h *Hub) NotifyCaseUpdate(caseID int64, kind string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int64("caseId", caseID).Msg("notify broadcast panicked")
		}
	}()

	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data["updateType"] = kind

	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Int64("caseId", caseID).Msg("failed to marshal notify payload")
		return
	}
	msg := &Message{Type: TypeUpdate, CaseID: caseID, Data: raw}

	if h.fanout != nil {
		err := h.fanout.Publish(context.Background(), caseID, msg)
		if err == nil {
			return
		}
		log.Warn().Err(err).Int64("caseId", caseID).Msg("fanout publish failed, delivering locally")
	}
	h.broadcastToCase(caseID, msg, nil)
}

// CasePresence returns the deduplicated member list for a case. Exposed to
// the HTTP layer for polling-style presence queries.
func (h *Hub) CasePresence(caseID int64) []model.Member {
	return h.registry.PresenceFor(caseID)
}

// deliverFanout relays a frame received from another instance to the local
// members of the case.
func (h *Hub) deliverFanout(caseID int64, data []byte) {
	for _, peer := range h.registry.Snapshot(caseID) {
		peer.sendRaw(data)
	}
}

// CloseStale closes connections with no activity past the cutoff; the read
// pumps finish the deregistration.
func (h *Hub) CloseStale(olderThan time.Duration) int {
	stale := h.registry.Stale(olderThan)
	for _, c := range stale {
		c.close(websocket.CloseGoingAway, "idle timeout")
	}
	return len(stale)
}

// Shutdown closes every connection. Presence is not persisted, so this is
// the whole teardown.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.AllConns() {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	if h.fanout != nil {
		h.fanout.Close()
	}
}

func (h *Hub) TotalConns() int {
	return h.registry.TotalConns()
}
