package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/room"
	"ephemeral-chat/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
	warnInterval   = 3 * time.Second
)

// Handler consumes the decoded events of one connection. Handle is never
// called concurrently for the same conn.
type Handler interface {
	Handle(ctx context.Context, conn room.ConnID, env types.Envelope)
	Disconnect(conn room.ConnID)
}

type Client struct {
	ID          room.ConnID
	Conn        *websocket.Conn
	Send        chan []byte
	Hub         *Hub
	Handler     Handler
	Limiter     *middleware.RateLimiter
	LastWarning time.Time
	once        sync.Once
}

func NewClient(h *Hub, conn *websocket.Conn, handler Handler, limiter *middleware.RateLimiter) *Client {
	return &Client{
		ID:      uuid.New(),
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		Hub:     h,
		Handler: handler,
		Limiter: limiter,
	}
}

// Serve registers the client and starts both pumps. It returns false when the
// hub has already shut down.
func (c *Client) Serve(ctx context.Context) bool {
	if !c.Hub.Add(c) {
		c.Conn.Close()
		return false
	}
	go c.WritePump()
	go c.ReadPump(ctx)
	return true
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Hub.remove(c)
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush whatever queued up meanwhile under the same deadline,
			// one event per frame.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.Send
				if !ok {
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.Handler.Disconnect(c.ID)
		c.Hub.remove(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn", c.ID.String()).Msg("[CLIENT] Unexpected close")
			}
			return
		}

		if c.Limiter != nil && !c.Limiter.Allow() {
			if time.Since(c.LastWarning) > warnInterval {
				c.reply(types.NewError("Rate limit exceeded"))
				c.LastWarning = time.Now()
			}
			continue
		}

		env, err := types.DecodeEnvelope(message)
		if err != nil {
			log.Debug().Err(err).Str("conn", c.ID.String()).Msg("[CLIENT] Dropping malformed frame")
			c.reply(types.NewError("Invalid message format"))
			continue
		}

		c.Handler.Handle(ctx, c.ID, env)
	}
}

func (c *Client) reply(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Hub.Deliver([]room.ConnID{c.ID}, payload)
}
