package api

import (
	"time"

	"storyfill/internal/narration"
	"storyfill/internal/room"
)

// CreateRoomResponse is returned from POST /rooms.
type CreateRoomResponse struct {
	RoomID      string        `json:"room_id"`
	RoomCode    string        `json:"room_code"`
	HostToken   string        `json:"host_token"`
	PlayerID    string        `json:"player_id"`
	PlayerToken string        `json:"player_token"`
	Snapshot    room.Snapshot `json:"room_snapshot"`
}

// JoinRoomResponse is returned from POST /rooms/{code}/join.
type JoinRoomResponse struct {
	PlayerID    string        `json:"player_id"`
	PlayerToken string        `json:"player_token"`
	Snapshot    room.Snapshot `json:"room_snapshot"`
}

type createRoomRequest struct {
	DisplayName string `json:"display_name"`
}

type joinRoomRequest struct {
	DisplayName string `json:"display_name"`
}

type leaveRoomRequest struct {
	PlayerID    string `json:"player_id"`
	PlayerToken string `json:"player_token"`
}

type setLockRequest struct {
	HostToken string `json:"host_token"`
}

type setTemplateRequest struct {
	HostToken  string `json:"host_token"`
	TemplateID string `json:"template_id"`
}

type startRoomRequest struct {
	HostToken string `json:"host_token"`
}

type revealRoomRequest struct {
	HostToken string `json:"host_token"`
}

type revealRoomResponse struct {
	RenderedStory string `json:"rendered_story"`
}

type replayRoomRequest struct {
	HostToken string `json:"host_token"`
}

type replayRoomResponse struct {
	RoundID string `json:"round_id"`
}

type kickPlayerRequest struct {
	HostToken string `json:"host_token"`
}

type reconnectResponse struct {
	Snapshot room.Snapshot `json:"room_snapshot"`
	Progress room.Progress `json:"progress"`
	Prompts  []promptView  `json:"prompts"`
}

type promptView struct {
	ID        string `json:"id"`
	SlotID    string `json:"slot_id"`
	SlotType  string `json:"slot_type"`
	Label     string `json:"label"`
	Submitted bool   `json:"submitted"`
	Value     string `json:"value,omitempty"`
}

func toPromptView(p *room.Prompt) promptView {
	return promptView{
		ID:        p.ID,
		SlotID:    p.SlotID,
		SlotType:  string(p.SlotType),
		Label:     p.Label,
		Submitted: p.Submitted,
		Value:     p.Value,
	}
}

type submitPromptRequest struct {
	PlayerToken string `json:"player_token"`
	Value       string `json:"value"`
}

type storyResponse struct {
	RenderedStory string `json:"rendered_story"`
	RoundID       string `json:"round_id"`
}

type requestNarrationRequest struct {
	HostToken string `json:"host_token"`
}

type narrationResponse struct {
	Handle narration.Handle `json:"narration"`
}

type playbackActionRequest struct {
	Action string `json:"action"`
}

type createShareRequest struct {
	HostToken string `json:"host_token"`
}

type createShareResponse struct {
	ShareToken string    `json:"share_token"`
	ShareURL   string    `json:"share_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type getShareResponse struct {
	RenderedStory string    `json:"rendered_story"`
	ExpiresAt     time.Time `json:"expires_at"`
	RoomCode      string    `json:"room_code"`
	RoundID       string    `json:"round_id"`
}
