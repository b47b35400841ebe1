package liveview

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	maxMessage = 4096
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FlushEvent is pushed to dashboard clients every time a minute bucket
// is rotated and its rows are built, whether or not the store writes
// succeeded.
type FlushEvent struct {
	Minute          time.Time `json:"minute"`
	SessionsStarted int64     `json:"sessions_started"`
	SessionsClosed  int64     `json:"sessions_closed"`
	TotalBytes      int64     `json:"total_bytes"`
	BandwidthBps    int64     `json:"bandwidth_bps"`
	UniqueUsers     int64     `json:"unique_users"`
	PeakConcurrent  int       `json:"peak_concurrent"`
	LiveTotal       int       `json:"live_total"`
}

// Client is a single dashboard websocket connection. It never reads
// application messages from the peer; the feed is push-only, so
// readPump exists solely to drive the pong/close handshake.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

// ServeWS upgrades the request to a websocket and registers the
// resulting client with hub. Mount at GET /ws/stats.
func ServeWS(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Debug("liveview: upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			id:     uuid.NewString(),
			hub:    hub,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
			logger: logger,
		}
		hub.Register(client)

		go client.writePump()
		go client.readPump()
	}
}

// readPump keeps the connection's read deadline alive via pong frames
// and detects when the peer disconnects. Any inbound message is
// discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(PongWaitSeconds * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWaitSeconds * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingIntervalSeconds * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
