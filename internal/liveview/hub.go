// Package liveview pushes minute-flush events to connected dashboard
// clients over WebSocket, so operators see updates without polling
// /stats/active. It mirrors the teacher's webinar room hub, but with a
// single global channel instead of one room per webinar.
package liveview

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	PingIntervalSeconds = 30
	PongWaitSeconds     = 60
)

// RedisPublisher publishes a flush event to other instances.
type RedisPublisher interface {
	PublishFlush(payload []byte) error
}

// RedisSubscriber delivers flush events published by other instances.
type RedisSubscriber interface {
	SubscribeFlush(handler func(payload []byte)) (cancel func(), err error)
}

// Hub maintains the set of connected dashboard clients and fans out
// flush events to all of them. Redis pub/sub lets multiple instances
// share one logical broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
	pub     RedisPublisher
}

func NewHub(logger *zap.Logger, pub RedisPublisher, sub RedisSubscriber) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		pub:     pub,
	}
	if sub != nil {
		if _, err := sub.SubscribeFlush(func(payload []byte) {
			h.broadcastLocal(payload)
		}); err != nil {
			logger.Warn("liveview: redis subscribe failed, falling back to local-only broadcast", zap.Error(err))
		}
	}
	return h
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("liveview client connected", zap.String("client_id", c.id), zap.Int("total", count))
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("liveview client disconnected", zap.String("client_id", c.id), zap.Int("total", count))
}

// BroadcastFlush sends a FlushEvent to every locally connected client
// and publishes it to Redis so other instances' clients see it too.
func (h *Hub) BroadcastFlush(event FlushEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("liveview: marshal flush event failed", zap.Error(err))
		return
	}
	h.broadcastLocal(payload)
	if h.pub != nil {
		if err := h.pub.PublishFlush(payload); err != nil {
			h.logger.Warn("liveview: publish flush event failed", zap.Error(err))
		}
	}
}

func (h *Hub) broadcastLocal(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// client's buffer is full; drop rather than block the hub.
		}
	}
}

// ClientCount reports how many dashboard clients are connected to this
// instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
