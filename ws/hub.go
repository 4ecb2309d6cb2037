// Package ws pushes live payment status changes to subscribed clients.
// Connections are grouped by order id; each group remembers the last
// status it was sent so repeated confirmations (repair sweeps re-walking
// an already-consistent system) produce no chatter.
package ws

import (
	"encoding/json"
	"sync"

	"xmr-payment-svc/middleware"
	"xmr-payment-svc/models"

	"go.uber.org/zap"
)

// StatusFunc resolves the current payment status for an order. The hub
// calls it on registration and on client-requested refreshes.
type StatusFunc func(orderID string) (models.PaymentStatus, bool)

type statusMessage struct {
	Type    string               `json:"type"`
	Status  models.PaymentStatus `json:"status"`
	OrderID string               `json:"order_id"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type group struct {
	clients map[*Client]struct{}
	last    models.PaymentStatus
	hasLast bool
}

type Hub struct {
	mu     sync.Mutex
	groups map[string]*group
	status StatusFunc
	logger *zap.Logger
}

func NewHub(status StatusFunc, logger *zap.Logger) *Hub {
	return &Hub{
		groups: make(map[string]*group),
		status: status,
		logger: logger,
	}
}

// Publish fans a status change out to every subscriber of the order's
// group. Deduped per order: if the group was last sent the same status,
// nothing is delivered.
func (h *Hub) Publish(orderID string, status models.PaymentStatus) {
	msg := marshalStatus(orderID, status)

	h.mu.Lock()
	g, ok := h.groups[orderID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if g.hasLast && g.last == status {
		h.mu.Unlock()
		h.logger.Debug("suppressing duplicate status notification",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
		)
		return
	}
	g.last = status
	g.hasLast = true
	targets := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.trySend(msg)
	}
	middleware.RecordNotificationSent(string(status))
	h.logger.Info("payment status published",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.Int("subscribers", len(targets)),
	)
}

// register adds the client to its order group and immediately sends it the
// current known status, so late subscribers see the present state rather
// than a replay.
func (h *Hub) register(c *Client) {
	status, known := h.status(c.orderID)

	h.mu.Lock()
	g, ok := h.groups[c.orderID]
	if !ok {
		g = &group{clients: make(map[*Client]struct{})}
		h.groups[c.orderID] = g
	}
	g.clients[c] = struct{}{}
	if known {
		g.last = status
		g.hasLast = true
	}
	total := len(g.clients)
	h.mu.Unlock()

	if known {
		c.trySend(marshalStatus(c.orderID, status))
	}
	h.logger.Info("websocket subscriber registered",
		zap.String("order_id", c.orderID),
		zap.Int("subscribers", total),
	)
}

// unregister removes the client and prunes its group once empty.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if g, ok := h.groups[c.orderID]; ok {
		delete(g.clients, c)
		if len(g.clients) == 0 {
			delete(h.groups, c.orderID)
		}
	}
	h.mu.Unlock()

	c.closeSend()
}

func (h *Hub) subscriberCount(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[orderID]; ok {
		return len(g.clients)
	}
	return 0
}

func marshalStatus(orderID string, status models.PaymentStatus) []byte {
	msg, _ := json.Marshal(statusMessage{
		Type:    "payment_status",
		Status:  status,
		OrderID: orderID,
	})
	return msg
}

func marshalError(message string) []byte {
	msg, _ := json.Marshal(errorMessage{Type: "error", Message: message})
	return msg
}
