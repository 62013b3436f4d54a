package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agency-chat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufSize    = 64
)

// Client is one websocket connection. Writes go through the send buffer so
// only writePump touches the socket for writing.
type Client struct {
	conn *websocket.Conn
	info ConnInfo
	send chan models.Event
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

func NewClient(conn *websocket.Conn, info ConnInfo, logger *slog.Logger) *Client {
	return &Client{
		conn: conn,
		info: info,
		send: make(chan models.Event, sendBufSize),
		done: make(chan struct{}),
		log:  logger,
	}
}

func (c *Client) Info() ConnInfo { return c.info }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues ev. It reports false when the client is closed or too slow.
func (c *Client) Send(ev models.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("ws send buffer full, closing", "conn_id", c.info.ConnID, "user_id", c.info.UserID)
		c.Close()
		return false
	}
}

// Close is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Warn("ws write failed", "conn_id", c.info.ConnID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes frames until the connection fails and returns the reason.
func (c *Client) readPump(handle func(models.Event)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Debug("ws malformed frame", "conn_id", c.info.ConnID, "error", err)
			c.Send(errorEvent("malformed frame"))
			continue
		}
		handle(ev)
	}
}

func errorEvent(message string) models.Event {
	ev, _ := models.NewEvent(models.EventError, models.ErrorPayload{Message: message})
	return ev
}
