package room

import (
	"time"

	"storyfill/internal/idgen"
	"storyfill/internal/moderation"
	"storyfill/internal/story"
	"storyfill/internal/templates"
)

// Config carries the tunables loaded from environment configuration.
type Config struct {
	MinPlayersToStart int
	MaxPlayersPerRoom int
	PromptsPerPlayer  int
	ShareTTL          time.Duration
}

const (
	maxDisplayNameLen = 32
	maxPromptValueLen = 80
)

// slotMaxLen gives a type-specific max length for prompt values. All
// free-text slot types share one bound in this design.
func slotMaxLen(SlotType) int { return maxPromptValueLen }

// NewRoom creates a fresh room in LobbyOpen with the given host as its
// first player.
func NewRoom(code, hostDisplayName string, now time.Time) (*Room, error) {
	roomID, err := idgen.NewOpaqueID("room")
	if err != nil {
		return nil, err
	}
	hostToken, err := idgen.NewToken()
	if err != nil {
		return nil, err
	}
	hostID, err := idgen.NewOpaqueID("player")
	if err != nil {
		return nil, err
	}
	playerToken, err := idgen.NewToken()
	if err != nil {
		return nil, err
	}

	r := &Room{
		ID:             roomID,
		Code:           code,
		CreatedAt:      now,
		LastActivityAt: now,
		State:          StateLobbyOpen,
		HostToken:      hostToken,
		HostPlayerID:   hostID,
		players:        make(map[string]*Player),
		StateVersion:   1,
	}

	host := &Player{
		ID:          hostID,
		DisplayName: sanitizeDisplayName(hostDisplayName, "Host"),
		Token:       playerToken,
		IsHost:      true,
		Connected:   false,
		JoinedAt:    now,
	}
	r.players[hostID] = host
	r.playerOrder = append(r.playerOrder, hostID)
	return r, nil
}

func sanitizeDisplayName(name, fallback string) string {
	name = printableASCII(name)
	if name == "" {
		return fallback
	}
	if len(name) > maxDisplayNameLen {
		name = name[:maxDisplayNameLen]
	}
	return name
}

func printableASCII(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x20 && b < 0x7f {
			out = append(out, b)
		}
	}
	return string(out)
}

// Join adds a new player to the room. Must run in LobbyOpen, reject
// when locked or full.
func (r *Room) Join(displayName string, now time.Time, cfg Config) (*Player, error) {
	if r.State == StateExpired {
		return nil, ErrExpired
	}
	if r.State != StateLobbyOpen {
		return nil, ErrStateConflict
	}
	if r.Locked {
		return nil, ErrLocked
	}
	if r.PlayerCount() >= cfg.MaxPlayersPerRoom {
		return nil, ErrFull
	}

	id, err := idgen.NewOpaqueID("player")
	if err != nil {
		return nil, err
	}
	token, err := idgen.NewToken()
	if err != nil {
		return nil, err
	}

	p := &Player{
		ID:          id,
		DisplayName: sanitizeDisplayName(displayName, "Player"),
		Token:       token,
		JoinedAt:    now,
	}
	r.players[id] = p
	r.playerOrder = append(r.playerOrder, id)
	r.touch(now)
	return p, nil
}

// Leave removes a player from the room. A host leaving just leaves —
// the room continues without requiring a host to remain; there is no
// host succession.
func (r *Room) Leave(playerID string, now time.Time) error {
	if _, ok := r.players[playerID]; !ok {
		return ErrNotFound
	}
	r.removePlayer(playerID)
	r.touch(now)
	return nil
}

// Kick removes a player immediately, bypassing disconnect grace, and
// reassigns the kicked player's prompts immediately rather than waiting
// for DisconnectGrace.
func (r *Room) Kick(hostToken, playerID string, now time.Time, cfg Config) error {
	if !idgen.TokensEqual(hostToken, r.HostToken) {
		return ErrAuth
	}
	if _, ok := r.players[playerID]; !ok {
		return ErrNotFound
	}
	if playerID == r.HostPlayerID {
		return ErrValidation
	}

	r.removePlayer(playerID)

	if r.State == StatePrompting {
		var eligible []*Player
		for _, p := range r.Players() {
			if p.Connected && !p.Kicked {
				eligible = append(eligible, p)
			}
		}
		if len(eligible) == 0 {
			eligible = r.Players()
		}
		if len(eligible) > 0 {
			load := make(map[string]int, len(eligible))
			for _, p := range eligible {
				load[p.ID] = 0
			}
			for _, p := range r.Prompts {
				if n, ok := load[p.AssignedPlayerID]; ok {
					load[p.AssignedPlayerID] = n + 1
				}
			}
			for _, p := range r.Prompts {
				if p.Submitted || p.AssignedPlayerID != playerID {
					continue
				}
				next := pickLeastLoaded(eligible, load)
				p.AssignedPlayerID = next.ID
				t := now
				p.LastReassignedAt = &t
				load[next.ID]++
			}
		}
		r.maybeAdvanceToAwaitingReveal()
	}

	r.touch(now)
	return nil
}

func (r *Room) removePlayer(playerID string) {
	delete(r.players, playerID)
	for i, id := range r.playerOrder {
		if id == playerID {
			r.playerOrder = append(r.playerOrder[:i], r.playerOrder[i+1:]...)
			break
		}
	}
}

// SetLocked toggles the room's join lock.
func (r *Room) SetLocked(hostToken string, locked bool, now time.Time) error {
	if !idgen.TokensEqual(hostToken, r.HostToken) {
		return ErrAuth
	}
	r.Locked = locked
	r.touch(now)
	return nil
}

// SetTemplate selects the template for the next start/replay. Allowed
// only in LobbyOpen.
func (r *Room) SetTemplate(hostToken, templateID string, now time.Time) error {
	if !idgen.TokensEqual(hostToken, r.HostToken) {
		return ErrAuth
	}
	if r.State != StateLobbyOpen {
		return ErrStateConflict
	}
	r.TemplateID = templateID
	r.touch(now)
	return nil
}

// Start deals prompts and transitions LobbyOpen -> Prompting.
func (r *Room) Start(hostToken string, tmpl templates.Template, now time.Time, cfg Config) error {
	if !idgen.TokensEqual(hostToken, r.HostToken) {
		return ErrAuth
	}
	if r.State != StateLobbyOpen {
		return ErrStateConflict
	}
	if r.TemplateID == "" {
		return ErrStateConflict
	}
	if r.PlayerCount() < cfg.MinPlayersToStart {
		return ErrStateConflict
	}

	roundID, err := idgen.NewOpaqueID("round")
	if err != nil {
		return err
	}
	prompts, err := AssignPrompts(tmpl, r.Players(), r.RoundIndex, AssignConfig{PromptsPerPlayer: cfg.PromptsPerPlayer})
	if err != nil {
		return err
	}

	r.RoundID = roundID
	r.Prompts = prompts
	r.State = StatePrompting
	r.touch(now)
	return nil
}

// SubmitPrompt records a player's answer. Idempotent for an identical
// resubmission; a differing value for an already-submitted prompt is a
// conflict.
func (r *Room) SubmitPrompt(playerToken, promptID, value string, now time.Time, check moderation.Checker) error {
	if r.State != StatePrompting {
		return ErrStateConflict
	}

	player := r.playerByToken(playerToken)
	if player == nil {
		return ErrAuth
	}

	var prompt *Prompt
	for _, p := range r.Prompts {
		if p.ID == promptID {
			prompt = p
			break
		}
	}
	if prompt == nil {
		return ErrNotFound
	}
	if prompt.AssignedPlayerID != player.ID {
		return ErrAuth
	}

	if prompt.Submitted {
		if prompt.Value == value {
			return nil
		}
		return ErrStateConflict
	}

	if err := validatePromptValue(value, prompt.SlotType, check); err != nil {
		return err
	}

	prompt.Value = value
	prompt.Submitted = true
	t := now
	prompt.SubmittedAt = &t

	r.maybeAdvanceToAwaitingReveal()
	r.touch(now)
	return nil
}

func validatePromptValue(value string, slotType SlotType, check moderation.Checker) error {
	if value == "" {
		return ErrValidation
	}
	if printableASCII(value) != value {
		return ErrValidation
	}
	if len(value) > slotMaxLen(slotType) {
		return ErrValidation
	}
	if check != nil && check.IsBlocked(value) {
		return ErrValidation
	}
	return nil
}

func (r *Room) maybeAdvanceToAwaitingReveal() {
	if r.State != StatePrompting {
		return
	}
	if len(r.Prompts) == 0 {
		return
	}
	for _, p := range r.Prompts {
		if !p.Submitted {
			return
		}
	}
	r.State = StateAwaitingReveal
}

func (r *Room) playerByToken(token string) *Player {
	for _, p := range r.players {
		if idgen.TokensEqual(p.Token, token) {
			return p
		}
	}
	return nil
}

// PlayerByToken authenticates a token against host or player tokens
// and returns the matching player and whether the token was the host
// token specifically. It is exported for the hub and HTTP surface,
// which need to authenticate without reaching into room internals.
func (r *Room) PlayerByToken(token string) (*Player, bool) {
	if p := r.playerByToken(token); p != nil {
		return p, idgen.TokensEqual(token, r.HostToken)
	}
	return nil, false
}

// Reveal renders the story and transitions AwaitingReveal -> Revealed.
func (r *Room) Reveal(hostToken string, tmpl templates.Template, now time.Time) (string, error) {
	if !idgen.TokensEqual(hostToken, r.HostToken) {
		return "", ErrAuth
	}
	if r.State != StateAwaitingReveal {
		return "", ErrStateConflict
	}

	values := make(map[string]string, len(r.Prompts))
	for _, p := range r.Prompts {
		values[p.SlotID] = p.Value
	}
	rendered := story.Render(tmpl.ToStoryTemplate(), values)

	r.RevealedStory = rendered
	r.State = StateRevealed
	r.touch(now)
	return rendered, nil
}

// Replay rotates to a new round: clears prompt values, increments
// round_index, mints a new round_id, and returns to Prompting.
func (r *Room) Replay(hostToken string, tmpl templates.Template, now time.Time, cfg Config) error {
	if !idgen.TokensEqual(hostToken, r.HostToken) {
		return ErrAuth
	}
	if r.State != StateRevealed {
		return ErrStateConflict
	}

	roundID, err := idgen.NewOpaqueID("round")
	if err != nil {
		return err
	}
	r.RoundIndex++
	prompts, err := AssignPrompts(tmpl, r.Players(), r.RoundIndex, AssignConfig{PromptsPerPlayer: cfg.PromptsPerPlayer})
	if err != nil {
		return err
	}

	r.RoundID = roundID
	r.Prompts = prompts
	r.RevealedStory = ""
	r.Share = nil
	r.State = StatePrompting
	r.touch(now)
	return nil
}

// CreateShare lazily mints (or returns the existing, still-valid)
// share token for the current revealed round. Idempotent within the
// share TTL.
func (r *Room) CreateShare(hostToken string, now time.Time, ttl time.Duration) (*Share, error) {
	if !idgen.TokensEqual(hostToken, r.HostToken) {
		return nil, ErrAuth
	}
	if r.State != StateRevealed {
		return nil, ErrStateConflict
	}

	if r.Share != nil && r.Share.RoundID == r.RoundID && now.Before(r.Share.ExpiresAt) {
		return r.Share, nil
	}

	token, err := idgen.NewToken()
	if err != nil {
		return nil, err
	}
	r.Share = &Share{
		Token:         token,
		RoomCode:      r.Code,
		RoundID:       r.RoundID,
		RenderedStory: r.RevealedStory,
		ExpiresAt:     now.Add(ttl),
	}
	r.touch(now)
	return r.Share, nil
}

// MarkConnected updates presence on socket connect.
func (r *Room) MarkConnected(playerID string, now time.Time) {
	if p, ok := r.players[playerID]; ok {
		p.Connected = true
		p.DisconnectedAt = nil
	}
	r.touch(now)
}

// MarkDisconnected updates presence on socket close.
func (r *Room) MarkDisconnected(playerID string, now time.Time) {
	if p, ok := r.players[playerID]; ok {
		p.Connected = false
		t := now
		p.DisconnectedAt = &t
	}
	r.touch(now)
}

// ExpireIfStale transitions the room to Expired if it has been
// inactive beyond ttl. Returns true if a transition happened.
func (r *Room) ExpireIfStale(now time.Time, ttl time.Duration) bool {
	if r.State == StateExpired {
		return false
	}
	if now.Sub(r.LastActivityAt) <= ttl {
		return false
	}
	r.State = StateExpired
	r.StateVersion++
	return true
}
