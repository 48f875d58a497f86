// Package hub implements StoryFill's WebSocket layer: the per-socket
// authenticate-then-upgrade flow, snapshot-on-connect, heartbeat and
// idle timeout, and the disconnect-grace timer that triggers prompt
// reassignment. The connection lifecycle is an upgrader, a readPump and
// writePump goroutine pair, and a buffered per-client send channel;
// StoryFill speaks small JSON envelopes since the room snapshot is a
// plain JSON-friendly struct.
package hub

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storyfill/internal/logging"
	"storyfill/internal/metrics"
	"storyfill/internal/room"
)

// Close codes the hub uses for protocol-level rejection.
const (
	CloseBadRequest   = 4400
	CloseAuth         = 4403
	CloseRoomNotFound = 4404
	CloseRoomExpired  = 4410
	CloseTryAgain     = 4429
)

const (
	outboundBufferSize = 64
	heartbeatInterval  = 25 * time.Second
	writeWait          = 10 * time.Second
)

// Hub owns the upgrader and wires new connections into the room store.
type Hub struct {
	store           *room.Store
	allowedOrigins  []string
	disconnectGrace time.Duration
	socketIdle      time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer // playerID -> pending reassignment timer
}

func New(store *room.Store, allowedOrigins []string, disconnectGrace, socketIdle time.Duration) *Hub {
	return &Hub{
		store:           store,
		allowedOrigins:  allowedOrigins,
		disconnectGrace: disconnectGrace,
		socketIdle:      socketIdle,
		timers:          make(map[string]*time.Timer),
	}
}

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range h.allowedOrigins {
				allowedURL, err := url.Parse(allowed)
				if err != nil {
					continue
				}
				if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
					return true
				}
			}
			return false
		},
	}
}

// ServeWs handles `GET /v1/ws?room_code=&token=`.
func (h *Hub) ServeWs(c *gin.Context) {
	roomCode := c.Query("room_code")
	token := c.Query("token")
	if roomCode == "" || token == "" {
		closeWithCode(c, CloseBadRequest)
		return
	}

	var player *room.Player
	var r *room.Room
	now := time.Now()
	err := h.store.WithLock(roomCode, func(rm *room.Room) error {
		r = rm
		if rm.State == room.StateExpired {
			return room.ErrExpired
		}
		p, _ := rm.PlayerByToken(token)
		if p == nil {
			return room.ErrAuth
		}
		player = p
		rm.MarkConnected(p.ID, now)
		return nil
	})

	switch err {
	case nil:
	case room.ErrNotFound:
		closeWithCode(c, CloseRoomNotFound)
		return
	case room.ErrExpired:
		closeWithCode(c, CloseRoomExpired)
		return
	case room.ErrAuth:
		closeWithCode(c, CloseAuth)
		return
	default:
		closeWithCode(c, CloseBadRequest)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "hub: upgrade failed", zap.Error(err))
		return
	}

	h.cancelReassignmentTimer(player.ID)

	client := &Client{
		conn:       conn,
		send:       make(chan []byte, outboundBufferSize),
		snapshot:   make(chan []byte, 1),
		hub:        h,
		roomID:     r.ID,
		playerID:   player.ID,
		socketIdle: h.socketIdle,
	}

	metrics.IncConnection()

	// Subscribe before publishing so this socket's own connect-triggered
	// snapshot is guaranteed to reach it.
	sub := h.store.Subscribe(r.ID, outboundBufferSize)
	if sub != nil {
		go client.relayFrom(sub)
	}

	go client.writePump()
	go client.readPump()

	h.store.WithLock(r.ID, func(rm *room.Room) error {
		h.store.PublishSnapshot(c.Request.Context(), rm)
		return nil
	})
}

func closeWithCode(c *gin.Context, code int) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	msg := websocket.FormatCloseMessage(code, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// onDisconnect arms a DisconnectGrace timer for playerID; if it fires
// before a reconnect cancels it, it redeals the stale players'
// unsubmitted prompts right away and publishes a snapshot when any
// moved, rather than leaving the reassignment to the store sweeper's
// next 30s tick (which would also perform it).
func (h *Hub) onDisconnect(roomID, playerID string, at time.Time) {
	h.mu.Lock()
	if t, ok := h.timers[playerID]; ok {
		t.Stop()
	}
	h.timers[playerID] = time.AfterFunc(h.disconnectGrace, func() {
		h.store.WithLock(roomID, func(rm *room.Room) error {
			moved := room.ReassignDisconnected(rm, time.Now(), h.disconnectGrace)
			if len(moved) > 0 {
				h.store.PublishSnapshot(context.Background(), rm)
			}
			return nil
		})
	})
	h.mu.Unlock()
}

func (h *Hub) cancelReassignmentTimer(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.timers[playerID]; ok {
		t.Stop()
		delete(h.timers, playerID)
	}
}
