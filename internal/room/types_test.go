package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoom_HostIsSoleHostAndFirstPlayer(t *testing.T) {
	r, err := NewRoom("ABCDEF", "Host", time.Now())
	require.NoError(t, err)

	assert.Equal(t, StateLobbyOpen, r.State)
	assert.Len(t, r.Players(), 1)

	host, ok := r.Player(r.HostPlayerID)
	require.True(t, ok)
	assert.True(t, host.IsHost)
	assert.Equal(t, host.ID, r.HostPlayerID)
}

func TestProgress_ReadyToRevealRequiresEverySubmitted(t *testing.T) {
	r := &Room{Prompts: []*Prompt{
		{ID: "p1", Submitted: true},
		{ID: "p2", Submitted: false},
	}, players: map[string]*Player{}}

	p := r.Progress()
	assert.Equal(t, 2, p.AssignedTotal)
	assert.Equal(t, 1, p.SubmittedTotal)
	assert.False(t, p.ReadyToReveal)
}

func TestProgress_ReadyToRevealTrueWhenAllSubmitted(t *testing.T) {
	r := &Room{Prompts: []*Prompt{
		{ID: "p1", Submitted: true},
		{ID: "p2", Submitted: true},
	}, players: map[string]*Player{}}

	assert.True(t, r.Progress().ReadyToReveal)
}

func TestProgress_EmptyRoundIsNeverReadyToReveal(t *testing.T) {
	r := &Room{players: map[string]*Player{}}
	assert.False(t, r.Progress().ReadyToReveal)
}

func TestProgress_ConnectedAndDisconnectedCounts(t *testing.T) {
	r := &Room{players: map[string]*Player{
		"a": {ID: "a", Connected: true},
		"b": {ID: "b", Connected: false},
		"c": {ID: "c", Connected: false},
	}}
	p := r.Progress()
	assert.Equal(t, 1, p.ConnectedTotal)
	assert.Equal(t, 2, p.DisconnectedTotal)
}

func TestSnapshot_RevealedStoryConsistency(t *testing.T) {
	now := time.Now()
	r, err := NewRoom("ABCDEF", "Host", now)
	require.NoError(t, err)

	assert.Empty(t, r.RevealedStory)
	assert.NotEqual(t, StateRevealed, r.Snapshot().RoomState)
}

func TestPromptsFor_FiltersByAssignedPlayer(t *testing.T) {
	r := &Room{Prompts: []*Prompt{
		{ID: "p1", AssignedPlayerID: "a"},
		{ID: "p2", AssignedPlayerID: "b"},
		{ID: "p3", AssignedPlayerID: "a"},
	}}
	out := r.PromptsFor("a")
	require.Len(t, out, 2)
	assert.Equal(t, "p1", out[0].ID)
	assert.Equal(t, "p3", out[1].ID)
}

func TestPlayerCount_MatchesInsertionOrderLength(t *testing.T) {
	r, err := NewRoom("ABCDEF", "Host", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, r.PlayerCount())
}
