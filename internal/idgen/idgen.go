// Package idgen mints the opaque identifiers and secrets StoryFill hands
// out to rooms, players, rounds and shares.
//
// Room codes draw from crypto/rand, map onto a fixed alphabet, and let
// the caller retry on collision. Everything else is a high-entropy
// opaque token, compared in constant time at the call site.
package idgen

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"fmt"
)

// roomCodeAlphabet excludes visually and aurally ambiguous characters
// (I, O, 0, 1) so hosts can read a code aloud without it being
// mistaken for another one.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// MaxRoomCodeAttempts bounds how many times the store retries a
// colliding room code before giving up with an internal error.
const MaxRoomCodeAttempts = 8

// NewRoomCode draws a uniformly random 6-character room code from the
// unambiguous alphabet above.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: generate room code: %w", err)
	}
	out := make([]byte, roomCodeLength)
	for i, b := range buf {
		out[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(out), nil
}

// NewOpaqueID returns an opaque identifier with at least 128 bits of
// entropy, suitable for room_id, player_id and round_id. It is not a
// secret (it may appear in URLs and logs) but is infeasible to guess.
func NewOpaqueID(prefix string) (string, error) {
	raw, err := randomBytes(16)
	if err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(raw), nil
}

// NewToken returns a cryptographically random secret (host_token,
// player_token, share_token) with at least 128 bits of entropy, base32
// encoded so it is easy to pass around in headers and query strings.
func NewToken() (string, error) {
	raw, err := randomBytes(20)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// TokensEqual compares two secrets in constant time so token
// verification does not leak timing information about how many
// leading bytes matched.
func TokensEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison against a same-length buffer so callers
		// that branch purely on length don't get a faster rejection path.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("idgen: read random bytes: %w", err)
	}
	return buf, nil
}
