package collab

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/config"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// The read limit sits well above the 64KB application cap so an
	// oversize frame is rejected softly instead of killing the socket.
	readLimitBytes = 1 << 20

	sendBufferSize = 256

	maxFrameBytes = config.MaxFrameBytes
	maxChatLength = config.MaxChatLength
)

type connState int

const (
	statePendingAuth connState = iota
	stateAuthenticated
	stateJoined
	stateClosed
)

// connection is one live websocket. Frame handling runs on the read
// goroutine; outbound frames go through the buffered send channel drained
// by the write pump so a slow peer never stalls a broadcast.
type connection struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	state     connState
	userID    string
	username  string
	color     string
	caseID    int64
	authTimer *time.Timer

	remoteIP  string
	userAgent string

	closeOnce sync.Once
}

func newConnection(hub *Hub, ws *websocket.Conn, remoteIP, userAgent string) *connection {
	return &connection{
		hub:       hub,
		ws:        ws,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		remoteIP:  remoteIP,
		userAgent: userAgent,
	}
}

func (c *connection) readPump() {
	defer func() {
		c.hub.dropConnection(c)
		c.close(0, "")
	}()

	c.ws.SetReadLimit(readLimitBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("ip", c.remoteIP).Msg("websocket read error")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.handleFrame(c, data)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage queues msg for delivery. Delivery is best-effort: when the
// buffer is full the frame is dropped for this peer only.
func (c *connection) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal outbound frame")
		return
	}
	c.sendRaw(data)
}

func (c *connection) sendRaw(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		log.Warn().Str("ip", c.remoteIP).Msg("send buffer full, dropping frame")
	}
}

func (c *connection) sendError(err error) {
	c.sendMessage(errorMessage(err))
}

// close tears the connection down exactly once. A non-zero code is sent to
// the peer as the close reason before the socket is closed, which also
// unblocks the read pump.
func (c *connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if code != 0 {
			deadline := time.Now().Add(writeWait)
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		}
		c.ws.Close()
	})
}

// snapshot returns the connection's state fields without holding the lock
// across handler work.
func (c *connection) snapshot() (connState, string, string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.userID, c.username, c.caseID
}
