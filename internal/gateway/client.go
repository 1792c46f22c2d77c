package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/safenest/safenest/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxMessageSize = 16 * 1024

	// Outbound queue per connection
	sendBuffer = 256
)

// Client is one authenticated websocket connection.
type Client struct {
	identity *models.Identity
	gw       *Gateway
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter

	// cleanupOnce guarantees disconnect handling runs exactly once per
	// connection, whatever triggers it.
	cleanupOnce sync.Once
}

func newClient(gw *Gateway, conn *websocket.Conn, identity *models.Identity) *Client {
	return &Client{
		identity: identity,
		gw:       gw,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(gw.eventRate), gw.eventBurst),
	}
}

func (c *Client) identityID() string {
	return c.identity.ID.String()
}

// enqueue hands a frame to the write pump without blocking. A full queue
// drops the frame: a slow reader must not stall a broadcast.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// readPump pumps inbound events from the connection into the dispatcher.
// Events are handled in receipt order, one at a time per connection.
func (c *Client) readPump() {
	defer func() {
		c.cleanupOnce.Do(func() { c.gw.onDisconnect(c) })
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gw.logger.Debug().Err(err).Str("identity_id", c.identityID()).Msg("unexpected close")
			}
			break
		}
		c.gw.dispatch(c, message)
	}
}

// writePump pumps frames from the send queue to the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
