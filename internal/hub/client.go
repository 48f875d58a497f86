package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storyfill/internal/bus"
	"storyfill/internal/logging"
	"storyfill/internal/metrics"
	"storyfill/internal/room"
)

// outboundMessage is the `{type, payload}` envelope the hub writes to
// every socket.
type outboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// inboundMessage is the only client-originated frame the hub acts on;
// every other frame is ignored.
type inboundMessage struct {
	Type string `json:"type"`
}

const clientHeartbeatType = "client.heartbeat"

// Client is one socket's view of a room. A player may hold more than
// one Client (multiple tabs); the last connect wins presence-wise, and
// every open socket still receives snapshots.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte // non-snapshot / terminal messages; bounded
	snapshot chan []byte // coalescing slot: only the newest snapshot

	hub        *Hub
	roomID     string
	playerID   string
	socketIdle time.Duration
}

func (c *Client) readPump() {
	defer c.onClose()

	c.conn.SetReadDeadline(time.Now().Add(c.socketIdle))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.socketIdle))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == clientHeartbeatType {
			c.hub.store.WithLock(c.roomID, func(rm *room.Room) error {
				rm.MarkConnected(c.playerID, time.Now())
				return nil
			})
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg, ok := <-c.snapshot:
			if !ok {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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

// relayFrom pumps bus events into the client's outbound channels,
// coalescing room.snapshot events into a single overwrite slot and
// dropping the socket with TRY_AGAIN if the bounded queue for
// everything else overflows.
func (c *Client) relayFrom(sub *bus.Subscription) {
	defer sub.Close()
	for evt := range sub.C {
		msg, err := json.Marshal(outboundMessage{Type: evt.Type, Payload: evt.Payload})
		if err != nil {
			logging.Error(context.Background(), "hub: failed to encode outbound event", zap.Error(err))
			continue
		}

		if evt.Type == room.EventRoomSnapshot {
			select {
			case c.snapshot <- msg:
			default:
				// Drain the stale snapshot and replace it with the newest
				// one rather than dropping the connection.
				select {
				case <-c.snapshot:
				default:
				}
				select {
				case c.snapshot <- msg:
				default:
				}
			}
			continue
		}

		select {
		case c.send <- msg:
		default:
			metrics.SocketsDropped.WithLabelValues("try_again").Inc()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseTryAgain, "backpressure"), time.Now().Add(writeWait))
			c.conn.Close()
			return
		}

		if evt.Type == room.EventRoomExpired {
			// room.expired is the final message a client will see; give
			// writePump a moment to flush it, then close with the code that
			// tells the client to stop reconnecting.
			time.Sleep(50 * time.Millisecond)
			metrics.SocketsDropped.WithLabelValues("room_expired").Inc()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseRoomExpired, "room expired"), time.Now().Add(writeWait))
			c.conn.Close()
			return
		}
	}
}

func (c *Client) onClose() {
	now := time.Now()
	c.hub.store.WithLock(c.roomID, func(rm *room.Room) error {
		rm.MarkDisconnected(c.playerID, now)
		c.hub.store.PublishSnapshot(context.Background(), rm)
		return nil
	})
	c.hub.onDisconnect(c.roomID, c.playerID, now)
	metrics.DecConnection()
}
