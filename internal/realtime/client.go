package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shenikar/falconwatch/internal/metrics"
	"github.com/shenikar/falconwatch/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// clientIDCounter задает детерминированный порядок рассылки
var clientIDCounter atomic.Uint64

// Client - посредник между websocket-соединением и хабом
type Client struct {
	id     uint64
	connID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte

	// session читается и пишется только горутиной readPump
	session       *models.Session
	authenticated atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:     clientIDCounter.Add(1),
		connID: uuid.New(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
}

// readPump читает сообщения соединения и передает их реле
func (c *Client) readPump(ctx context.Context, r *Relay) {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		r.logger.WithError(err).Error("Failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// первое сообщение должно аутентифицировать соединение в отведенное время
	authTimer := time.AfterFunc(r.authTimeout, func() {
		if !c.authenticated.Load() {
			r.logger.WithField("connection_id", c.connID).Warn("Authentication deadline exceeded")
			metrics.AuthFailures.WithLabelValues("timeout").Inc()
			c.hub.Reject(c, mustMessage(models.EventAuthenticated, models.AuthenticatedEvent{Success: false}))
		}
	})
	defer authTimer.Stop()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				r.logger.WithError(err).WithField("connection_id", c.connID).Warn("Unexpected websocket close error")
			}
			return
		}
		if !r.handle(ctx, c, raw) {
			return
		}
	}
}

// writePump отправляет сообщения из очереди соединения
func (c *Client) writePump(r *Relay) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				r.logger.WithError(err).Error("Failed to set write deadline")
				return
			}
			if !ok {
				// хаб закрыл очередь
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				r.logger.WithError(err).WithField("connection_id", c.connID).Debug("Failed to write websocket message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
