package websocket

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultPingInterval   = 30 * time.Second
	defaultMaxMessageSize = 4096
	writeTimeout          = 10 * time.Second
)

type Client struct {
	ID             string
	Email          string
	Name           string
	Conn           *websocket.Conn
	Send           chan []byte   // Buffered channel for outgoing messages
	RateLimiter    *rate.Limiter // Rate limiter to prevent spamming
	PingInterval   time.Duration
	MaxMessageSize int64
	closed         bool       // Flag to check if the connection is closed
	mu             sync.Mutex // Mutex to protect the closed flag
}

func (c *Client) pingInterval() time.Duration {
	if c.PingInterval > 0 {
		return c.PingInterval
	}
	return defaultPingInterval
}

// ReadMessages listens for incoming messages from the client. onDisconnect
// runs exactly once when the read loop exits, however the connection ended.
func (c *Client) ReadMessages(handleMessage func(*Client, []byte), onDisconnect func(*Client)) {
	defer func() {
		onDisconnect(c)
		log.Debugf("Connection closed for client %s", c.ID)
	}()

	limit := c.MaxMessageSize
	if limit <= 0 {
		limit = defaultMaxMessageSize
	}
	c.Conn.SetReadLimit(limit)

	// The pong deadline spans two ping cycles so a single delayed pong does
	// not drop the connection.
	pongWait := 2 * c.pingInterval()
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from client %s: %v", c.ID, err)
			break
		}
		handleMessage(c, message)
	}
}

// WriteMessages sends outgoing messages and keepalive pings to the client.
// The mutex is never held across a network write, so a stalled connection
// cannot block TrySend; a write that makes no progress for writeTimeout
// errors out and ends the pump.
func (c *Client) WriteMessages() {
	ticker := time.NewTicker(c.pingInterval())
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugf("Error sending message to client %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a message without blocking. It reports false when the
// client's buffer is full or the connection is already closed; a slow
// subscriber never blocks the caller.
func (c *Client) TrySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// Disconnect cleans up client resources.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	c.Conn.Close()
	log.Debugf("Client %s cleanup completed", c.ID)
}
