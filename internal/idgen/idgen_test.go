package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomCode(t *testing.T) {
	code, err := NewRoomCode()
	require.NoError(t, err)
	assert.Len(t, code, roomCodeLength)
	for _, r := range code {
		assert.Contains(t, roomCodeAlphabet, string(r))
	}
	assert.NotContains(t, code, "I")
	assert.NotContains(t, code, "O")
	assert.NotContains(t, code, "0")
	assert.NotContains(t, code, "1")
}

func TestNewRoomCode_Uniform(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := NewRoomCode()
		require.NoError(t, err)
		seen[code] = true
	}
	// Astronomically unlikely to collide 200 times out of 32^6 codes.
	assert.Greater(t, len(seen), 190)
}

func TestNewOpaqueID(t *testing.T) {
	id, err := NewOpaqueID("room")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "room_"))

	id2, err := NewOpaqueID("room")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestNewToken(t *testing.T) {
	tok, err := NewToken()
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	tok2, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)
}

func TestTokensEqual(t *testing.T) {
	a, _ := NewToken()
	assert.True(t, TokensEqual(a, a))
	assert.False(t, TokensEqual(a, a+"x"))
	assert.False(t, TokensEqual("short", "longer-string"))
	assert.False(t, TokensEqual("", "nonempty"))
	assert.True(t, TokensEqual("", ""))
}
