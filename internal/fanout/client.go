package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// SendBuffer is how many messages may queue for one subscriber before drops start.
	SendBuffer = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Command is what a websocket client sends to manage its call subscriptions.
type Command struct {
	Action string `json:"action"`
	CallID string `json:"callId"`
}

type reply struct {
	Type   string `json:"type"`
	CallID string `json:"callId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client is a websocket subscriber. One goroutine reads commands, another
// drains the send queue; Send only ever enqueues.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	log  *slog.Logger

	send chan []byte

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, log *slog.Logger) *Client {
	id := uuid.NewString()
	if log == nil {
		log = hub.log
	}
	return &Client{
		id:   id,
		conn: conn,
		hub:  hub,
		log:  log.With("subscriber_id", id),
		send: make(chan []byte, SendBuffer),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Send(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Serve registers the client, optionally joins callID, and blocks until the
// connection ends or ctx is cancelled.
func (c *Client) Serve(ctx context.Context, callID string) {
	c.hub.Register(c)
	if callID != "" {
		_ = c.hub.Subscribe(callID, c.id)
	}
	c.log.Info("subscriber connected", "call_id", callID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	c.readLoop()

	cancel()
	c.Close()
	wg.Wait()
	c.log.Info("subscriber disconnected")
}

// Close leaves every topic and shuts the connection. It is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.Remove(c.id)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("subscriber read ended", "err", err)
			}
			return
		}
		c.handle(payload)
	}
}

func (c *Client) handle(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.reply(reply{Type: "error", Error: "invalid command"})
		return
	}
	if cmd.CallID == "" {
		c.reply(reply{Type: "error", Error: "callId is required"})
		return
	}
	switch cmd.Action {
	case "subscribe":
		if err := c.hub.Subscribe(cmd.CallID, c.id); err != nil {
			c.reply(reply{Type: "error", CallID: cmd.CallID, Error: err.Error()})
			return
		}
		c.reply(reply{Type: "subscribed", CallID: cmd.CallID})
	case "unsubscribe":
		c.hub.Unsubscribe(cmd.CallID, c.id)
		c.reply(reply{Type: "unsubscribed", CallID: cmd.CallID})
	default:
		c.reply(reply{Type: "error", CallID: cmd.CallID, Error: "unknown action"})
	}
}

func (c *Client) reply(r reply) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.Send(b)
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("subscriber write failed", "err", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
