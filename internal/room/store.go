package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyfill/internal/bus"
	"storyfill/internal/idgen"
	"storyfill/internal/logging"
	"storyfill/internal/metrics"
)

// EventRoomSnapshot and EventRoomExpired are the two event types the
// bus carries for a room.
const (
	EventRoomSnapshot = "room.snapshot"
	EventRoomExpired  = "room.expired"
)

// SnapshotEvent is the payload carried by a room.snapshot event.
type SnapshotEvent struct {
	Snapshot Snapshot `json:"room_snapshot"`
	Progress Progress `json:"progress"`
}

// Store owns every live Room, keyed by room id with a secondary index
// by room code, and serializes all access to a given room behind that
// room's own lock — one writer per room, many rooms per store. A
// background sweep expires and removes stale rooms on a TTL.
type Store struct {
	mu         sync.Mutex
	rooms      map[string]*entry
	codeIndex  map[string]string // code -> room id
	shareIndex map[string]string // share token -> room id

	bus *bus.Bus

	ttl             time.Duration
	disconnectGrace time.Duration
	expiryGrace     time.Duration

	stopSweep chan struct{}
}

type entry struct {
	mu   sync.Mutex
	room *Room
}

// NewStore builds a Store and starts its TTL sweeper goroutine.
func NewStore(eventBus *bus.Bus, ttl, disconnectGrace time.Duration) *Store {
	s := &Store{
		rooms:           make(map[string]*entry),
		codeIndex:       make(map[string]string),
		shareIndex:      make(map[string]string),
		bus:             eventBus,
		ttl:             ttl,
		disconnectGrace: disconnectGrace,
		expiryGrace:     5 * time.Second,
		stopSweep:       make(chan struct{}),
	}
	go s.sweepLoop(30 * time.Second)
	return s
}

// Stop halts the sweeper goroutine. Intended for tests and graceful
// shutdown; a running server normally never calls it.
func (s *Store) Stop() { close(s.stopSweep) }

// Create mints a fresh room code (retrying on collision up to
// idgen.MaxRoomCodeAttempts) and inserts the room into the store.
func (s *Store) Create(hostDisplayName string, now time.Time) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < idgen.MaxRoomCodeAttempts; attempt++ {
		code, err := idgen.NewRoomCode()
		if err != nil {
			return nil, err
		}
		if _, exists := s.codeIndex[code]; exists {
			continue
		}
		r, err := NewRoom(code, hostDisplayName, now)
		if err != nil {
			return nil, err
		}
		s.rooms[r.ID] = &entry{room: r}
		s.codeIndex[code] = r.ID
		metrics.ActiveRooms.Inc()
		return r, nil
	}
	return nil, ErrValidation
}

// lookup resolves a room id or room code to its entry without locking
// the entry itself.
func (s *Store) lookup(idOrCode string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.rooms[idOrCode]; ok {
		return e, true
	}
	if id, ok := s.codeIndex[idOrCode]; ok {
		if e, ok := s.rooms[id]; ok {
			return e, true
		}
	}
	return nil, false
}

// WithLock runs fn with the room's exclusive lock held, the entire
// command path for that room serialized behind this single call. fn
// returning an error does not roll back mutations already applied to
// the in-memory struct — callers validate before mutating, matching
// the state machine's own guard-then-mutate methods.
func (s *Store) WithLock(idOrCode string, fn func(*Room) error) error {
	e, ok := s.lookup(idOrCode)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.room)
}

// PublishSnapshot emits a room.snapshot event for the room. Must be
// called while still holding the room's lock, so the event's
// state_version ordering matches publication order.
func (s *Store) PublishSnapshot(ctx context.Context, r *Room) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(SnapshotEvent{Snapshot: r.Snapshot(), Progress: r.Progress()})
	if err != nil {
		logging.Error(ctx, "room: failed to marshal snapshot event", zap.Error(err))
		return
	}
	s.bus.Publish(ctx, bus.Event{
		RoomID:  r.ID,
		Type:    EventRoomSnapshot,
		Seq:     r.StateVersion,
		Payload: payload,
	})
	metrics.RoomPlayers.WithLabelValues(r.ID).Set(float64(r.PlayerCount()))
}

func (s *Store) publishExpired(ctx context.Context, r *Room) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, bus.Event{
		RoomID:  r.ID,
		Type:    EventRoomExpired,
		Seq:     r.StateVersion,
		Payload: json.RawMessage(`{}`),
	})
}

// Remove deletes a room and its code index entry.
func (s *Store) Remove(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.rooms[roomID]; ok {
		delete(s.codeIndex, e.room.Code)
		if e.room.Share != nil {
			delete(s.shareIndex, e.room.Share.Token)
		}
		delete(s.rooms, roomID)
		metrics.ActiveRooms.Dec()
		metrics.RoomPlayers.DeleteLabelValues(roomID)
	}
}

// RegisterShare records a share token's owning room so WithLockByShare
// can resolve it later. Callers hold the room's lock when calling this,
// immediately after a successful Room.CreateShare.
func (s *Store) RegisterShare(token, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shareIndex[token] = roomID
}

// WithLockByShare resolves a share token to its room and runs fn with
// that room's lock held, the same contract as WithLock.
func (s *Store) WithLockByShare(token string, fn func(*Room) error) error {
	s.mu.Lock()
	roomID, ok := s.shareIndex[token]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return s.WithLock(roomID, fn)
}

// Subscribe registers a bus subscription for a room's events, for the
// WebSocket hub to consume. bufferSize bounds the per-socket outbound
// queue so one slow socket can't stall the bus.
func (s *Store) Subscribe(roomID string, bufferSize int) *bus.Subscription {
	if s.bus == nil {
		return nil
	}
	return s.bus.Subscribe(roomID, bufferSize)
}

// sweepLoop periodically expires inactive rooms and, after a short
// grace period, removes them entirely.
func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepOnce(time.Now())
		}
	}
}

func (s *Store) sweepOnce(now time.Time) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		e, ok := s.lookup(id)
		if !ok {
			continue
		}

		var justExpired bool
		var reassigned []string
		e.mu.Lock()
		r := e.room
		if r.State != StateExpired {
			reassigned = ReassignDisconnected(r, now, s.disconnectGrace)
			justExpired = r.ExpireIfStale(now, s.ttl)
		}
		e.mu.Unlock()

		ctx := context.Background()
		if len(reassigned) > 0 {
			e.mu.Lock()
			s.PublishSnapshot(ctx, r)
			e.mu.Unlock()
		}
		if justExpired {
			e.mu.Lock()
			s.publishExpired(ctx, r)
			e.mu.Unlock()
			logging.Info(ctx, "room expired by sweeper", zap.String("room_id", id), zap.String("room_code", r.Code))
			go s.scheduleRemoval(id)
		}
	}
}

func (s *Store) scheduleRemoval(roomID string) {
	timer := time.NewTimer(s.expiryGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.Remove(roomID)
	case <-s.stopSweep:
	}
}
