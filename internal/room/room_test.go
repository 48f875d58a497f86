package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyfill/internal/moderation"
	"storyfill/internal/story"
	"storyfill/internal/templates"
)

func testConfig() Config {
	return Config{
		MinPlayersToStart: 2,
		MaxPlayersPerRoom: 4,
		PromptsPerPlayer:  3,
		ShareTTL:          time.Hour,
	}
}

func forestMishap() templates.Template {
	return templates.Template{
		ID:    "t-forest-mishap",
		Title: "Forest Mishap",
		Story: "It was a {adjective} day when {name} went for a walk. A {sound} echoed near the {place} among the {noun}.",
		Slots: []story.Slot{
			{ID: "adjective", Type: "adjective"},
			{ID: "name", Type: "name"},
			{ID: "sound", Type: "sound"},
			{ID: "place", Type: "place"},
			{ID: "verb", Type: "verb"},
			{ID: "noun", Type: "noun"},
		},
	}
}

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	r, err := NewRoom("ABCDEF", "Host", time.Now())
	require.NoError(t, err)
	return r
}

func TestJoin_AddsPlayerInLobbyOpen(t *testing.T) {
	r := newTestRoom(t)
	p, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)
	assert.False(t, p.IsHost)
	assert.Len(t, r.Players(), 2)
}

func TestJoin_RejectsWhenLocked(t *testing.T) {
	r := newTestRoom(t)
	require.NoError(t, r.SetLocked(r.HostToken, true, time.Now()))

	_, err := r.Join("Guest", time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrLocked)
}

func TestJoin_RejectsWhenFull(t *testing.T) {
	r := newTestRoom(t)
	cfg := testConfig()
	cfg.MaxPlayersPerRoom = 1

	_, err := r.Join("Guest", time.Now(), cfg)
	assert.ErrorIs(t, err, ErrFull)
}

func TestJoin_RejectsOutsideLobbyOpen(t *testing.T) {
	r := newTestRoom(t)
	r.State = StatePrompting

	_, err := r.Join("Guest", time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestJoin_RejectsOnExpiredRoom(t *testing.T) {
	r := newTestRoom(t)
	r.State = StateExpired

	_, err := r.Join("Guest", time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrExpired)
}

func TestJoin_BumpsStateVersion(t *testing.T) {
	r := newTestRoom(t)
	before := r.StateVersion
	_, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)
	assert.Greater(t, r.StateVersion, before)
}

func TestLeave_RemovesPlayer(t *testing.T) {
	r := newTestRoom(t)
	p, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	require.NoError(t, r.Leave(p.ID, time.Now()))
	_, ok := r.Player(p.ID)
	assert.False(t, ok)
}

func TestLeave_UnknownPlayerNotFound(t *testing.T) {
	r := newTestRoom(t)
	err := r.Leave("nonexistent", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKick_RequiresHostToken(t *testing.T) {
	r := newTestRoom(t)
	p, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	err = r.Kick("wrong-token", p.ID, time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestKick_CannotKickHost(t *testing.T) {
	r := newTestRoom(t)
	err := r.Kick(r.HostToken, r.HostPlayerID, time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestKick_DuringPromptingReassignsImmediately(t *testing.T) {
	r := newTestRoom(t)
	pB, err := r.Join("B", time.Now(), testConfig())
	require.NoError(t, err)
	pC, err := r.Join("C", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	totalBefore := len(r.Prompts)
	require.NoError(t, r.Kick(r.HostToken, pB.ID, time.Now(), testConfig()))

	for _, p := range r.Prompts {
		assert.NotEqual(t, pB.ID, p.AssignedPlayerID, "kicked player's prompts must move immediately")
	}
	assert.Equal(t, totalBefore, len(r.Prompts), "kicking never drops prompts")
	_ = pC
}

func TestSetLocked_RequiresHostToken(t *testing.T) {
	r := newTestRoom(t)
	err := r.SetLocked("wrong", true, time.Now())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestSetTemplate_OnlyInLobbyOpen(t *testing.T) {
	r := newTestRoom(t)
	r.State = StatePrompting
	err := r.SetTemplate(r.HostToken, "t-forest-mishap", time.Now())
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestStart_RequiresTemplateSelected(t *testing.T) {
	r := newTestRoom(t)
	_, _ = r.Join("Guest", time.Now(), testConfig())
	err := r.Start(r.HostToken, templates.Template{}, time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestStart_RequiresMinimumPlayers(t *testing.T) {
	r := newTestRoom(t)
	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))

	err := r.Start(r.HostToken, tmpl, time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestStart_DealsPromptsAndTransitions(t *testing.T) {
	r := newTestRoom(t)
	_, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	assert.Equal(t, StatePrompting, r.State)
	assert.Len(t, r.Prompts, 6) // 6 slots, 2 players * 3 prompts each == 6
	assert.NotEmpty(t, r.RoundID)
}

func TestSubmitPrompt_IdempotentOnIdenticalResubmission(t *testing.T) {
	r := newTestRoom(t)
	p2, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	host, _ := r.Player(r.HostPlayerID)
	var mine *Prompt
	for _, p := range r.Prompts {
		if p.AssignedPlayerID == host.ID {
			mine = p
			break
		}
	}
	require.NotNil(t, mine)

	require.NoError(t, r.SubmitPrompt(host.Token, mine.ID, "brave", time.Now(), nil))
	assert.NoError(t, r.SubmitPrompt(host.Token, mine.ID, "brave", time.Now(), nil))
	_ = p2
}

func TestSubmitPrompt_ConflictOnDifferentValue(t *testing.T) {
	r := newTestRoom(t)
	_, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	host, _ := r.Player(r.HostPlayerID)
	mine := r.PromptsFor(host.ID)[0]

	require.NoError(t, r.SubmitPrompt(host.Token, mine.ID, "brave", time.Now(), nil))
	err = r.SubmitPrompt(host.Token, mine.ID, "scared", time.Now(), nil)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestSubmitPrompt_RejectsWrongOwner(t *testing.T) {
	r := newTestRoom(t)
	guest, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	host, _ := r.Player(r.HostPlayerID)
	var hostPrompt *Prompt
	for _, p := range r.Prompts {
		if p.AssignedPlayerID == host.ID {
			hostPrompt = p
			break
		}
	}
	require.NotNil(t, hostPrompt)

	err = r.SubmitPrompt(guest.Token, hostPrompt.ID, "brave", time.Now(), nil)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestSubmitPrompt_BlockedTermFailsValidation(t *testing.T) {
	r := newTestRoom(t)
	_, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	host, _ := r.Player(r.HostPlayerID)
	mine := r.PromptsFor(host.ID)[0]

	err = r.SubmitPrompt(host.Token, mine.ID, "fuck", time.Now(), moderation.Default())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitPrompt_MaxLengthBoundary(t *testing.T) {
	r := newTestRoom(t)
	_, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	host, _ := r.Player(r.HostPlayerID)
	mine := r.PromptsFor(host.ID)[0]

	ok := make([]byte, maxPromptValueLen)
	for i := range ok {
		ok[i] = 'a'
	}
	tooLong := make([]byte, maxPromptValueLen+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}

	assert.NoError(t, r.SubmitPrompt(host.Token, mine.ID, string(ok), time.Now(), nil))

	r2 := newTestRoom(t)
	_, err = r2.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)
	require.NoError(t, r2.SetTemplate(r2.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r2.Start(r2.HostToken, tmpl, time.Now(), testConfig()))
	host2, _ := r2.Player(r2.HostPlayerID)
	mine2 := r2.PromptsFor(host2.ID)[0]
	err = r2.SubmitPrompt(host2.Token, mine2.ID, string(tooLong), time.Now(), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitPrompt_AdvancesToAwaitingRevealWhenAllSubmitted(t *testing.T) {
	r := newTestRoom(t)
	guest, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	host, _ := r.Player(r.HostPlayerID)
	for _, p := range r.Prompts {
		var tok string
		if p.AssignedPlayerID == host.ID {
			tok = host.Token
		} else {
			tok = guest.Token
		}
		require.NoError(t, r.SubmitPrompt(tok, p.ID, "value", time.Now(), nil))
	}

	assert.Equal(t, StateAwaitingReveal, r.State)
	assert.True(t, r.Progress().ReadyToReveal)
}

func TestReveal_RendersStoryAndTransitions(t *testing.T) {
	r := newTestRoom(t)
	guest, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	host, _ := r.Player(r.HostPlayerID)
	values := map[string]string{
		"adjective": "brave", "name": "Sam", "sound": "boom",
		"place": "forest", "verb": "running", "noun": "squirrels",
	}
	for _, p := range r.Prompts {
		var tok string
		if p.AssignedPlayerID == host.ID {
			tok = host.Token
		} else {
			tok = guest.Token
		}
		require.NoError(t, r.SubmitPrompt(tok, p.ID, values[p.SlotID], time.Now(), nil))
	}

	rendered, err := r.Reveal(r.HostToken, tmpl, time.Now())
	require.NoError(t, err)
	assert.Contains(t, rendered, `"boom"`)
	assert.Contains(t, rendered, "Sam")
	assert.Equal(t, StateRevealed, r.State)
	assert.Equal(t, rendered, r.RevealedStory)
}

func TestReveal_RejectsBeforeAllSubmitted(t *testing.T) {
	r := newTestRoom(t)
	_, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))

	_, err = r.Reveal(r.HostToken, tmpl, time.Now())
	assert.ErrorIs(t, err, ErrStateConflict)
}

func submitEverything(t *testing.T, r *Room, host, guest *Player) {
	t.Helper()
	for _, p := range r.Prompts {
		tok := guest.Token
		if p.AssignedPlayerID == host.ID {
			tok = host.Token
		}
		require.NoError(t, r.SubmitPrompt(tok, p.ID, "val", time.Now(), nil))
	}
}

func TestReplay_RotatesRoundAndClearsArtifacts(t *testing.T) {
	r := newTestRoom(t)
	guest, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))
	host, _ := r.Player(r.HostPlayerID)
	submitEverything(t, r, host, guest)
	_, err = r.Reveal(r.HostToken, tmpl, time.Now())
	require.NoError(t, err)

	_, err = r.CreateShare(r.HostToken, time.Now(), time.Hour)
	require.NoError(t, err)

	oldRoundID := r.RoundID
	oldRoundIndex := r.RoundIndex

	require.NoError(t, r.Replay(r.HostToken, tmpl, time.Now(), testConfig()))

	assert.NotEqual(t, oldRoundID, r.RoundID)
	assert.Equal(t, oldRoundIndex+1, r.RoundIndex)
	assert.Equal(t, StatePrompting, r.State)
	assert.Nil(t, r.Share)
	assert.Empty(t, r.RevealedStory)
}

func TestReplay_OnlyFromRevealed(t *testing.T) {
	r := newTestRoom(t)
	tmpl := forestMishap()
	err := r.Replay(r.HostToken, tmpl, time.Now(), testConfig())
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestCreateShare_IdempotentWithinTTL(t *testing.T) {
	r := newTestRoom(t)
	guest, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)
	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))
	host, _ := r.Player(r.HostPlayerID)
	submitEverything(t, r, host, guest)
	_, err = r.Reveal(r.HostToken, tmpl, time.Now())
	require.NoError(t, err)

	now := time.Now()
	s1, err := r.CreateShare(r.HostToken, now, time.Hour)
	require.NoError(t, err)
	s2, err := r.CreateShare(r.HostToken, now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, s1.Token, s2.Token)
}

func TestCreateShare_NewTokenAfterExpiry(t *testing.T) {
	r := newTestRoom(t)
	guest, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)
	tmpl := forestMishap()
	require.NoError(t, r.SetTemplate(r.HostToken, tmpl.ID, time.Now()))
	require.NoError(t, r.Start(r.HostToken, tmpl, time.Now(), testConfig()))
	host, _ := r.Player(r.HostPlayerID)
	submitEverything(t, r, host, guest)
	_, err = r.Reveal(r.HostToken, tmpl, time.Now())
	require.NoError(t, err)

	now := time.Now()
	s1, err := r.CreateShare(r.HostToken, now, time.Minute)
	require.NoError(t, err)
	s2, err := r.CreateShare(r.HostToken, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, s1.Token, s2.Token)
}

func TestExpireIfStale_TransitionsOnceAfterTTL(t *testing.T) {
	r := newTestRoom(t)
	now := time.Now()
	r.LastActivityAt = now

	assert.False(t, r.ExpireIfStale(now.Add(30*time.Minute), time.Hour))
	assert.True(t, r.ExpireIfStale(now.Add(2*time.Hour), time.Hour))
	assert.Equal(t, StateExpired, r.State)
	assert.False(t, r.ExpireIfStale(now.Add(3*time.Hour), time.Hour), "already expired rooms don't transition again")
}

func TestMarkConnected_ClearsDisconnectedAt(t *testing.T) {
	r := newTestRoom(t)
	r.MarkDisconnected(r.HostPlayerID, time.Now())
	host, _ := r.Player(r.HostPlayerID)
	require.NotNil(t, host.DisconnectedAt)

	r.MarkConnected(r.HostPlayerID, time.Now())
	assert.True(t, host.Connected)
	assert.Nil(t, host.DisconnectedAt)
}

func TestPlayerByToken_DistinguishesHost(t *testing.T) {
	r := newTestRoom(t)
	guest, err := r.Join("Guest", time.Now(), testConfig())
	require.NoError(t, err)

	host, _ := r.Player(r.HostPlayerID)
	_, isHost := r.PlayerByToken(host.Token)
	assert.True(t, isHost)

	_, isHost = r.PlayerByToken(guest.Token)
	assert.False(t, isHost)

	_, ok := r.PlayerByToken("bad-token")
	assert.False(t, ok)
}

func TestSanitizeDisplayName_DefaultsAndTruncates(t *testing.T) {
	assert.Equal(t, "Player", sanitizeDisplayName("", "Player"))
	assert.Equal(t, "Player", sanitizeDisplayName("\x00\x01", "Player"))

	long := ""
	for i := 0; i < maxDisplayNameLen+10; i++ {
		long += "a"
	}
	assert.Len(t, sanitizeDisplayName(long, "Player"), maxDisplayNameLen)
}
