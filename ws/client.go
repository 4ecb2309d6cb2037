package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// heartbeat: ping every 5s, drop the connection after 10s of silence.
	pingPeriod = 5 * time.Second
	pongWait   = 10 * time.Second
	writeWait  = 10 * time.Second

	maxMessageSize = 512
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Session auth happens upstream; the websocket endpoint itself is open.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live subscriber connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	orderID string
	send    chan []byte
	once    sync.Once
	logger  *zap.Logger
}

type clientCommand struct {
	Command string `json:"command"`
}

// ServeWS upgrades the request and registers the connection under the
// order id in the path.
func ServeWS(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", zap.String("order_id", orderID), zap.Error(err))
			return
		}

		client := &Client{
			hub:     hub,
			conn:    conn,
			orderID: orderID,
			send:    make(chan []byte, sendBuffer),
			logger:  logger,
		}
		hub.register(client)

		go client.writePump()
		go client.readPump()
	}
}

// trySend queues a message without blocking. A subscriber that cannot keep
// up loses the message rather than stalling the publisher; the heartbeat
// will reap it if it is actually gone.
func (c *Client) trySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping message to slow subscriber", zap.String("order_id", c.orderID))
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.String("order_id", c.orderID), zap.Error(err))
			}
			return
		}
		c.handleCommand(raw)
	}
}

func (c *Client) handleCommand(raw []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.trySend(marshalError("invalid JSON: " + err.Error()))
		return
	}

	switch cmd.Command {
	case "check_status":
		// Direct resend to the requesting client only, bypassing dedupe.
		if status, ok := c.hub.status(c.orderID); ok {
			c.trySend(marshalStatus(c.orderID, status))
		} else {
			c.trySend(marshalError("no payment found for order " + c.orderID))
		}
	default:
		c.trySend(marshalError("unknown command: " + cmd.Command))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
