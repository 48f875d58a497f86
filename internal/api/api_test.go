package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyfill/internal/bus"
	"storyfill/internal/moderation"
	"storyfill/internal/narration"
	"storyfill/internal/ratelimit"
	"storyfill/internal/room"
	"storyfill/internal/templates"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeNarrationProvider struct{ audioURL string }

func (f *fakeNarrationProvider) Synthesize(ctx context.Context, fingerprint, text string) (string, error) {
	return f.audioURL, nil
}

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	store := room.NewStore(bus.New(), time.Hour, time.Minute)
	t.Cleanup(store.Stop)

	limiter, err := ratelimit.New(ratelimit.Config{
		CreateRoom:   "2-M",
		JoinRoom:     "100-M",
		SubmitBurst:  "100-S",
		SubmitWindow: "100-M",
	}, nil)
	require.NoError(t, err)

	s := NewServer(store, templates.Default(), limiter, narration.New(&fakeNarrationProvider{audioURL: "https://audio/1"}), moderation.Default(), Config{
		RoomConfig: room.Config{MinPlayersToStart: 2, MaxPlayersPerRoom: 4, PromptsPerPlayer: 3, ShareTTL: time.Hour},
		PublicBase: "https://storyfill.example",
	})

	r := gin.New()
	v1 := r.Group("/v1")
	s.RegisterRoutes(v1)
	return s, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateRoom_ReturnsHostAndPlayerTokens(t *testing.T) {
	_, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/v1/rooms", createRoomRequest{DisplayName: "Host"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp CreateRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RoomCode)
	assert.NotEmpty(t, resp.HostToken)
	assert.NotEmpty(t, resp.PlayerToken)
	assert.Equal(t, "LobbyOpen", string(resp.Snapshot.RoomState))
}

func TestCreateRoom_RateLimitedAfterBucketExhausted(t *testing.T) {
	_, r := newTestServer(t)

	doJSON(t, r, http.MethodPost, "/v1/rooms", createRoomRequest{DisplayName: "A"})
	doJSON(t, r, http.MethodPost, "/v1/rooms", createRoomRequest{DisplayName: "B"})
	w := doJSON(t, r, http.MethodPost, "/v1/rooms", createRoomRequest{DisplayName: "C"})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func createTestRoom(t *testing.T, r *gin.Engine) CreateRoomResponse {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/rooms", createRoomRequest{DisplayName: "Host"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp CreateRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestJoinRoom_AddsSecondPlayer(t *testing.T) {
	_, r := newTestServer(t)
	created := createTestRoom(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/join", joinRoomRequest{DisplayName: "Guest"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp JoinRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Snapshot.Players, 2)
}

func TestJoinRoom_UnknownCodeReturnsNotFound(t *testing.T) {
	_, r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/v1/rooms/ZZZZZZ/join", joinRoomRequest{DisplayName: "Guest"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLockRoom_RejectsJoinAfterLocking(t *testing.T) {
	_, r := newTestServer(t)
	created := createTestRoom(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+":lock", setLockRequest{HostToken: created.HostToken})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/join", joinRoomRequest{DisplayName: "Guest"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSetTemplate_RejectsUnknownTemplateID(t *testing.T) {
	_, r := newTestServer(t)
	created := createTestRoom(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+":template",
		setTemplateRequest{HostToken: created.HostToken, TemplateID: "does-not-exist"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func startedRoomWithTwoPlayers(t *testing.T, r *gin.Engine) (CreateRoomResponse, JoinRoomResponse) {
	t.Helper()
	created := createTestRoom(t, r)
	w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/join", joinRoomRequest{DisplayName: "Guest"})
	require.Equal(t, http.StatusOK, w.Code)
	var guest JoinRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &guest))

	w = doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+":template",
		setTemplateRequest{HostToken: created.HostToken, TemplateID: "t-forest-mishap"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/start", startRoomRequest{HostToken: created.HostToken})
	require.Equal(t, http.StatusOK, w.Code)

	return created, guest
}

func TestStartRoom_RejectsJoinAfterStart(t *testing.T) {
	_, r := newTestServer(t)
	created, _ := startedRoomWithTwoPlayers(t, r)

	w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/join", joinRoomRequest{DisplayName: "Late"})
	assert.Equal(t, http.StatusConflict, w.Code, "joining after start is no longer LobbyOpen")
}

func TestGetPrompts_RequiresMatchingPlayerToken(t *testing.T) {
	_, r := newTestServer(t)
	created, guest := startedRoomWithTwoPlayers(t, r)

	var snap struct {
		RoomSnapshot struct {
			RoundID string `json:"round_id"`
		} `json:"room_snapshot"`
	}
	w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/players/"+created.PlayerID+":reconnect?player_token="+created.PlayerToken, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &snap)

	w = doJSON(t, r, http.MethodGet,
		"/v1/rooms/"+created.RoomCode+"/rounds/"+snap.RoomSnapshot.RoundID+"/prompts?player_id="+guest.PlayerID+"&player_token=wrong-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitPrompt_FullRoundTripsToRevealed(t *testing.T) {
	_, r := newTestServer(t)
	created, guest := startedRoomWithTwoPlayers(t, r)

	w := doJSON(t, r, http.MethodGet, "/v1/rooms/"+created.RoomCode, nil)
	_ = w

	var startResp struct {
		RoomSnapshot room.Snapshot `json:"room_snapshot"`
	}
	w = doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/players/"+created.PlayerID+":reconnect?player_token="+created.PlayerToken, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &startResp))
	roundID := startResp.RoomSnapshot.RoundID
	require.NotEmpty(t, roundID)

	w = doJSON(t, r, http.MethodGet, "/v1/rooms/"+created.RoomCode+"/rounds/"+roundID+"/prompts?player_id="+created.PlayerID+"&player_token="+created.PlayerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hostPrompts struct {
		Prompts []promptView `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hostPrompts))

	w = doJSON(t, r, http.MethodGet, "/v1/rooms/"+created.RoomCode+"/rounds/"+roundID+"/prompts?player_id="+guest.PlayerID+"&player_token="+guest.PlayerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var guestPrompts struct {
		Prompts []promptView `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &guestPrompts))

	for _, p := range hostPrompts.Prompts {
		w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/rounds/"+roundID+"/prompts/"+p.ID+":submit",
			submitPromptRequest{PlayerToken: created.PlayerToken, Value: "value"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	for _, p := range guestPrompts.Prompts {
		w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/rounds/"+roundID+"/prompts/"+p.ID+":submit",
			submitPromptRequest{PlayerToken: guest.PlayerToken, Value: "value"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/reveal", revealRoomRequest{HostToken: created.HostToken})
	require.Equal(t, http.StatusOK, w.Code)
	var revealResp revealRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revealResp))
	assert.NotEmpty(t, revealResp.RenderedStory)
}

func TestSubmitPrompt_BlockedValueRejected(t *testing.T) {
	_, r := newTestServer(t)
	created, _ := startedRoomWithTwoPlayers(t, r)

	var startResp struct {
		RoomSnapshot room.Snapshot `json:"room_snapshot"`
	}
	w := doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/players/"+created.PlayerID+":reconnect?player_token="+created.PlayerToken, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &startResp))
	roundID := startResp.RoomSnapshot.RoundID

	w = doJSON(t, r, http.MethodGet, "/v1/rooms/"+created.RoomCode+"/rounds/"+roundID+"/prompts?player_id="+created.PlayerID+"&player_token="+created.PlayerToken, nil)
	var hostPrompts struct {
		Prompts []promptView `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hostPrompts))
	require.NotEmpty(t, hostPrompts.Prompts)

	w = doJSON(t, r, http.MethodPost, "/v1/rooms/"+created.RoomCode+"/rounds/"+roundID+"/prompts/"+hostPrompts.Prompts[0].ID+":submit",
		submitPromptRequest{PlayerToken: created.PlayerToken, Value: "fuck"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTemplates_ReturnsSeedCatalogue(t *testing.T) {
	_, r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/v1/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Templates []templates.Template `json:"templates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, len(resp.Templates), 3)
}

func TestGetTemplate_UnknownIDReturnsNotFound(t *testing.T) {
	_, r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/v1/templates/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetShare_UnknownTokenReturnsNotFound(t *testing.T) {
	_, r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/v1/shares/nonexistent-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
