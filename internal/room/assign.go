package room

import (
	"time"

	"storyfill/internal/idgen"
	"storyfill/internal/templates"
)

// AssignConfig carries the tunables the assigner needs, sourced from
// internal/config.
type AssignConfig struct {
	PromptsPerPlayer int
}

// AssignPrompts builds the flat prompt list for a fresh round and deals
// it round-robin across players. roundIndex selects the starting player
// offset so the same person doesn't always draw the same slot types on
// replay.
func AssignPrompts(tmpl templates.Template, players []*Player, roundIndex int, cfg AssignConfig) ([]*Prompt, error) {
	if len(players) == 0 {
		return nil, ErrValidation
	}
	slots := tmpl.Slots
	if len(slots) == 0 {
		return nil, ErrValidation
	}

	target := cfg.PromptsPerPlayer * len(players)
	if len(slots) > target {
		target = len(slots)
	}

	now := time.Now()
	prompts := make([]*Prompt, 0, target)
	for i := 0; i < target; i++ {
		slot := slots[i%len(slots)]
		id, err := idgen.NewOpaqueID("prompt")
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, &Prompt{
			ID:         id,
			SlotID:     slot.ID,
			SlotType:   SlotType(slot.Type),
			Label:      slot.ID,
			AssignedAt: now,
		})
	}

	start := roundIndex % len(players)
	for i, p := range prompts {
		owner := players[(start+i)%len(players)]
		p.AssignedPlayerID = owner.ID
	}
	return prompts, nil
}

// ReassignDisconnected redeals the unsubmitted prompts of players whose
// disconnect grace has elapsed to the currently connected, non-kicked
// players, preferring whoever holds the fewest prompts and breaking
// ties by earliest join time. It returns the ids of the players who
// received redealt prompts.
func ReassignDisconnected(r *Room, now time.Time, disconnectGrace time.Duration) []string {
	if r.State != StatePrompting {
		return nil
	}

	stale := make(map[string]bool)
	for _, p := range r.players {
		if p.Connected || p.Kicked {
			continue
		}
		if p.DisconnectedAt == nil {
			continue
		}
		if now.Sub(*p.DisconnectedAt) >= disconnectGrace {
			stale[p.ID] = true
		}
	}
	if len(stale) == 0 {
		return nil
	}

	var eligible []*Player
	for _, p := range r.Players() {
		if p.Connected && !p.Kicked && !stale[p.ID] {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	load := make(map[string]int, len(eligible))
	for _, p := range eligible {
		load[p.ID] = 0
	}
	for _, p := range r.Prompts {
		if n, ok := load[p.AssignedPlayerID]; ok {
			load[p.AssignedPlayerID] = n + 1
		}
	}

	moved := make(map[string]bool)
	for _, p := range r.Prompts {
		if p.Submitted || !stale[p.AssignedPlayerID] {
			continue
		}
		next := pickLeastLoaded(eligible, load)
		p.AssignedPlayerID = next.ID
		t := now
		p.LastReassignedAt = &t
		load[next.ID]++
		moved[next.ID] = true
	}

	out := make([]string, 0, len(moved))
	for id := range moved {
		out = append(out, id)
	}
	return out
}

func pickLeastLoaded(players []*Player, load map[string]int) *Player {
	best := players[0]
	for _, p := range players[1:] {
		if load[p.ID] < load[best.ID] {
			best = p
			continue
		}
		if load[p.ID] == load[best.ID] && p.JoinedAt.Before(best.JoinedAt) {
			best = p
		}
	}
	return best
}
