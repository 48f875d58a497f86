// Package room implements StoryFill's authoritative room state
// machine: the Room and Player types, the lifecycle transitions, the
// prompt assignment/reassignment algorithm, and the room store with its
// TTL sweeper. Every state-mutating method here assumes the caller
// already holds the room's lock; callers reach mutation only through
// Store.WithLock.
package room

import (
	"errors"
	"time"
)

// State is one of the room lifecycle states.
type State string

const (
	StateLobbyOpen      State = "LobbyOpen"
	StatePrompting      State = "Prompting"
	StateAwaitingReveal State = "AwaitingReveal"
	StateRevealed       State = "Revealed"
	StateExpired        State = "Expired"
)

// SlotType is one of the typed placeholders a template defines.
type SlotType string

const (
	SlotAdjective SlotType = "adjective"
	SlotName      SlotType = "name"
	SlotVerb      SlotType = "verb"
	SlotPlace     SlotType = "place"
	SlotSound     SlotType = "sound"
	SlotNoun      SlotType = "noun"
)

// Player is one participant in a room.
type Player struct {
	ID             string
	DisplayName    string
	Token          string
	IsHost         bool
	Connected      bool
	DisconnectedAt *time.Time
	JoinedAt       time.Time
	Kicked         bool
}

// Prompt is one slot in the current round, assigned to exactly one
// player at a time.
type Prompt struct {
	ID                string
	SlotID            string
	SlotType          SlotType
	Label             string
	AssignedPlayerID  string
	Submitted         bool
	Value             string
	AssignedAt        time.Time
	SubmittedAt       *time.Time
	LastReassignedAt  *time.Time
}

// Share is the lazily-created public read-only artifact for a
// revealed round.
type Share struct {
	Token         string
	RoomCode      string
	RoundID       string
	RenderedStory string
	ExpiresAt     time.Time
}

// Room is the unit of isolation and the unit of locking. Every field
// here is mutated only while the owning Store holds this room's lock
// (see Store.WithLock); Room itself carries no internal mutex.
type Room struct {
	ID             string
	Code           string
	CreatedAt      time.Time
	LastActivityAt time.Time

	State  State
	Locked bool

	TemplateID string

	RoundIndex int
	RoundID    string

	StateVersion uint64

	HostToken    string
	HostPlayerID string

	playerOrder []string
	players     map[string]*Player

	Prompts []*Prompt

	RevealedStory string

	Share *Share
}

// Players returns the room's players in join order.
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.playerOrder))
	for _, id := range r.playerOrder {
		out = append(out, r.players[id])
	}
	return out
}

// Player looks up a player by id.
func (r *Room) Player(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// PlayerCount returns the number of players currently in the room
// (kicked players are removed immediately and are not counted;
// disconnected players stay in the room and are counted).
func (r *Room) PlayerCount() int { return len(r.playerOrder) }

var (
	ErrNotFound      = errors.New("room: not found")
	ErrAuth          = errors.New("room: auth failed")
	ErrStateConflict = errors.New("room: state conflict")
	ErrLocked        = errors.New("room: locked")
	ErrFull          = errors.New("room: full")
	ErrExpired       = errors.New("room: expired")
	ErrValidation    = errors.New("room: validation")
)

// Progress summarizes a round's completion for clients.
type Progress struct {
	AssignedTotal    int  `json:"assigned_total"`
	SubmittedTotal   int  `json:"submitted_total"`
	ConnectedTotal   int  `json:"connected_total"`
	DisconnectedTotal int `json:"disconnected_total"`
	ReadyToReveal    bool `json:"ready_to_reveal"`
}

// PlayerView is the client-visible shape of a Player within a snapshot.
type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsHost      bool   `json:"is_host"`
	Connected   bool   `json:"connected"`
}

// Snapshot is the canonical state envelope clients consume.
type Snapshot struct {
	RoomID       string       `json:"room_id"`
	RoomCode     string       `json:"room_code"`
	RoundID      string       `json:"round_id"`
	RoundIndex   int          `json:"round_index"`
	StateVersion uint64       `json:"state_version"`
	RoomState    State        `json:"room_state"`
	Locked       bool         `json:"locked"`
	TemplateID   string       `json:"template_id"`
	Players      []PlayerView `json:"players"`
}

// Progress computes the current round's progress record. Submissions
// count regardless of current assignment, so a prompt that was
// submitted before its owner was reassigned still counts as submitted.
func (r *Room) Progress() Progress {
	var p Progress
	connected := make(map[string]bool, len(r.playerOrder))
	for _, pl := range r.players {
		connected[pl.ID] = pl.Connected
	}
	for _, prompt := range r.Prompts {
		p.AssignedTotal++
		if prompt.Submitted {
			p.SubmittedTotal++
		}
	}
	for _, pl := range r.players {
		if pl.Connected {
			p.ConnectedTotal++
		} else {
			p.DisconnectedTotal++
		}
	}
	p.ReadyToReveal = len(r.Prompts) > 0 && p.SubmittedTotal == p.AssignedTotal
	return p
}

// Snapshot builds the client-visible snapshot of the room's current state.
func (r *Room) Snapshot() Snapshot {
	views := make([]PlayerView, 0, len(r.playerOrder))
	for _, pl := range r.Players() {
		views = append(views, PlayerView{
			ID:          pl.ID,
			DisplayName: pl.DisplayName,
			IsHost:      pl.IsHost,
			Connected:   pl.Connected,
		})
	}
	return Snapshot{
		RoomID:       r.ID,
		RoomCode:     r.Code,
		RoundID:      r.RoundID,
		RoundIndex:   r.RoundIndex,
		StateVersion: r.StateVersion,
		RoomState:    r.State,
		Locked:       r.Locked,
		TemplateID:   r.TemplateID,
		Players:      views,
	}
}

// PromptsFor returns the prompts currently assigned to a player.
func (r *Room) PromptsFor(playerID string) []*Prompt {
	var out []*Prompt
	for _, p := range r.Prompts {
		if p.AssignedPlayerID == playerID {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) touch(now time.Time) {
	r.LastActivityAt = now
	r.StateVersion++
}
