package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"storyfill/internal/httperr"
	"storyfill/internal/idgen"
	"storyfill/internal/narration"
	"storyfill/internal/ratelimit"
	"storyfill/internal/room"
)

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	_ = c.ShouldBindJSON(&req)

	now := time.Now()
	r, err := s.store.Create(req.DisplayName, now)
	if err != nil {
		httperr.Write(c, httperr.Internal("could not create room"))
		return
	}
	host, _ := r.Player(r.HostPlayerID)

	c.JSON(http.StatusOK, CreateRoomResponse{
		RoomID:      r.ID,
		RoomCode:    r.Code,
		HostToken:   r.HostToken,
		PlayerID:    host.ID,
		PlayerToken: host.Token,
		Snapshot:    r.Snapshot(),
	})
}

func (s *Server) roomQR(c *gin.Context) {
	code := c.Param("code")
	if err := s.store.WithLock(code, func(r *room.Room) error { return nil }); err != nil {
		writeErr(c, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(code), qrcode.Medium, 256)
	if err != nil {
		httperr.Write(c, httperr.Internal("could not render qr code"))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) joinRoom(c *gin.Context) {
	code := c.Param("code")
	var req joinRoomRequest
	_ = c.ShouldBindJSON(&req)

	var player *room.Player
	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		p, err := r.Join(req.DisplayName, now, s.cfg)
		if err != nil {
			return err
		}
		player = p
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	snap, _, _ := publishAndSnapshot(s, code)
	c.JSON(http.StatusOK, JoinRoomResponse{
		PlayerID:    player.ID,
		PlayerToken: player.Token,
		Snapshot:    snap,
	})
}

func (s *Server) leaveRoom(c *gin.Context) {
	code := c.Param("code")
	var req leaveRoomRequest
	_ = c.ShouldBindJSON(&req)

	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		p, ok := r.Player(req.PlayerID)
		if !ok || !idgen.TokensEqual(p.Token, tokenFrom(c, req.PlayerToken)) {
			return room.ErrAuth
		}
		return r.Leave(req.PlayerID, now)
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	snap, _, _ := publishAndSnapshot(s, code)
	c.JSON(http.StatusOK, gin.H{"room_snapshot": snap})
}

func (s *Server) lockRoom(c *gin.Context)   { s.setLock(c, true) }
func (s *Server) unlockRoom(c *gin.Context) { s.setLock(c, false) }

func (s *Server) setLock(c *gin.Context, locked bool) {
	code := c.Param("code")
	var req setLockRequest
	_ = c.ShouldBindJSON(&req)
	hostToken := tokenFrom(c, req.HostToken)

	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		return r.SetLocked(hostToken, locked, now)
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	snap, _, _ := publishAndSnapshot(s, code)
	c.JSON(http.StatusOK, gin.H{"room_snapshot": snap})
}

func (s *Server) setTemplate(c *gin.Context) {
	code := c.Param("code")
	var req setTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.Validation("malformed request body"))
		return
	}
	if _, ok := s.catalogue.Get(req.TemplateID); !ok {
		httperr.Write(c, httperr.Validation("unknown template_id"))
		return
	}
	hostToken := tokenFrom(c, req.HostToken)

	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		return r.SetTemplate(hostToken, req.TemplateID, now)
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	snap, _, _ := publishAndSnapshot(s, code)
	c.JSON(http.StatusOK, gin.H{"room_snapshot": snap})
}

func (s *Server) startRoom(c *gin.Context) {
	code := c.Param("code")
	var req startRoomRequest
	_ = c.ShouldBindJSON(&req)
	hostToken := tokenFrom(c, req.HostToken)

	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		tmpl, ok := s.catalogue.Get(r.TemplateID)
		if !ok {
			return room.ErrStateConflict
		}
		return r.Start(hostToken, tmpl, now, s.cfg)
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	snap, _, _ := publishAndSnapshot(s, code)
	c.JSON(http.StatusOK, gin.H{"room_snapshot": snap})
}

func (s *Server) revealRoom(c *gin.Context) {
	code := c.Param("code")
	var req revealRoomRequest
	_ = c.ShouldBindJSON(&req)
	hostToken := tokenFrom(c, req.HostToken)

	var rendered string
	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		tmpl, ok := s.catalogue.Get(r.TemplateID)
		if !ok {
			return room.ErrStateConflict
		}
		out, err := r.Reveal(hostToken, tmpl, now)
		if err != nil {
			return err
		}
		rendered = out
		s.store.PublishSnapshot(c.Request.Context(), r)
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, revealRoomResponse{RenderedStory: rendered})
}

func (s *Server) replayRoom(c *gin.Context) {
	code := c.Param("code")
	var req replayRoomRequest
	_ = c.ShouldBindJSON(&req)
	hostToken := tokenFrom(c, req.HostToken)

	var roundID string
	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		tmpl, ok := s.catalogue.Get(r.TemplateID)
		if !ok {
			return room.ErrStateConflict
		}
		prevRoundID := r.RoundID
		if err := r.Replay(hostToken, tmpl, now, s.cfg); err != nil {
			return err
		}
		s.narration.Clear(r.ID, prevRoundID)
		roundID = r.RoundID
		s.store.PublishSnapshot(c.Request.Context(), r)
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, replayRoomResponse{RoundID: roundID})
}

func (s *Server) reconnect(c *gin.Context) {
	code := c.Param("code")
	playerID := c.Param("id")
	playerToken := tokenFrom(c, c.Query("player_token"))

	var snap room.Snapshot
	var prog room.Progress
	var prompts []promptView
	err := s.store.WithLock(code, func(r *room.Room) error {
		if r.State == room.StateExpired {
			return room.ErrExpired
		}
		p, ok := r.Player(playerID)
		if !ok || !idgen.TokensEqual(p.Token, playerToken) {
			return room.ErrAuth
		}
		r.MarkConnected(playerID, time.Now())
		for _, pr := range r.PromptsFor(playerID) {
			prompts = append(prompts, toPromptView(pr))
		}
		snap = r.Snapshot()
		prog = r.Progress()
		s.store.PublishSnapshot(c.Request.Context(), r)
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, reconnectResponse{Snapshot: snap, Progress: prog, Prompts: prompts})
}

func (s *Server) kickPlayer(c *gin.Context) {
	code := c.Param("code")
	playerID := c.Param("id")
	var req kickPlayerRequest
	_ = c.ShouldBindJSON(&req)
	hostToken := tokenFrom(c, req.HostToken)

	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		return r.Kick(hostToken, playerID, now, s.cfg)
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	snap, _, _ := publishAndSnapshot(s, code)
	c.JSON(http.StatusOK, gin.H{"room_snapshot": snap})
}

func (s *Server) getPrompts(c *gin.Context) {
	code := c.Param("code")
	roundID := c.Param("round_id")
	playerID := c.Query("player_id")
	playerToken := tokenFrom(c, c.Query("player_token"))

	var prompts []promptView
	err := s.store.WithLock(code, func(r *room.Room) error {
		if r.RoundID != roundID {
			return room.ErrNotFound
		}
		if r.State != room.StatePrompting {
			return room.ErrStateConflict
		}
		p, ok := r.Player(playerID)
		if !ok || !idgen.TokensEqual(p.Token, playerToken) {
			return room.ErrAuth
		}
		for _, pr := range r.PromptsFor(playerID) {
			prompts = append(prompts, toPromptView(pr))
		}
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

func (s *Server) submitPrompt(c *gin.Context) {
	code := c.Param("code")
	promptID := c.Param("prompt_id")
	var req submitPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.Validation("malformed request body"))
		return
	}
	playerToken := tokenFrom(c, req.PlayerToken)

	var playerID string
	if err := s.store.WithLock(code, func(r *room.Room) error {
		p, ok := r.PlayerByToken(playerToken)
		if !ok {
			return room.ErrAuth
		}
		playerID = p.ID
		return nil
	}); err != nil {
		writeErr(c, err)
		return
	}

	// Two independent windows: a tight burst cap and a looser per-minute
	// cap, both keyed on the same room/player pair so a player can't
	// outrun their budget by spreading submissions across prompts.
	bucketKey := code + ":" + playerID
	if allowed, retry := s.limiter.CheckKey(c.Request.Context(), ratelimit.BucketSubmitBurst, bucketKey); !allowed {
		httperr.Write(c, httperr.RateLimited(retry))
		return
	}
	if allowed, retry := s.limiter.CheckKey(c.Request.Context(), ratelimit.BucketSubmitWindow, bucketKey); !allowed {
		httperr.Write(c, httperr.RateLimited(retry))
		return
	}

	now := time.Now()
	err := s.store.WithLock(code, func(r *room.Room) error {
		return r.SubmitPrompt(playerToken, promptID, req.Value, now, s.moderation)
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	snap, prog, _ := publishAndSnapshot(s, code)
	c.JSON(http.StatusOK, gin.H{"room_snapshot": snap, "progress": prog})
}

func (s *Server) getStory(c *gin.Context) {
	code := c.Param("code")
	roundID := c.Param("round_id")

	var resp storyResponse
	err := s.store.WithLock(code, func(r *room.Room) error {
		switch {
		case r.RoundID == roundID && r.State == room.StateRevealed:
			resp = storyResponse{RenderedStory: r.RevealedStory, RoundID: roundID}
			return nil
		case r.RoundID != roundID:
			return room.ErrNotFound
		default:
			return room.ErrStateConflict
		}
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getProgress(c *gin.Context) {
	code := c.Param("code")
	roundID := c.Param("round_id")

	var prog room.Progress
	err := s.store.WithLock(code, func(r *room.Room) error {
		if r.RoundID != roundID {
			return room.ErrNotFound
		}
		prog = r.Progress()
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, prog)
}

func (s *Server) requestNarration(c *gin.Context) {
	code := c.Param("code")
	roundID := c.Param("round_id")
	var req requestNarrationRequest
	_ = c.ShouldBindJSON(&req)
	hostToken := tokenFrom(c, req.HostToken)

	if allowed, retry := s.limiter.CheckKey(c.Request.Context(), ratelimit.BucketRequestNarrate, code); !allowed {
		httperr.Write(c, httperr.RateLimited(retry))
		return
	}

	var storyText, roomID string
	err := s.store.WithLock(code, func(r *room.Room) error {
		if !idgen.TokensEqual(r.HostToken, hostToken) {
			return room.ErrAuth
		}
		if r.RoundID != roundID || r.State != room.StateRevealed {
			return room.ErrStateConflict
		}
		roomID = r.ID
		storyText = r.RevealedStory
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	// The provider call happens outside the room lock.
	handle, err := s.narration.Request(c.Request.Context(), roomID, roundID, storyText)
	if err != nil {
		httperr.Write(c, httperr.Internal("narration request failed"))
		return
	}
	c.JSON(http.StatusOK, narrationResponse{Handle: handle})
}

func (s *Server) getNarration(c *gin.Context) {
	code := c.Param("code")
	roundID := c.Param("round_id")

	var roomID string
	err := s.store.WithLock(code, func(r *room.Room) error {
		roomID = r.ID
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	handle, ok := s.narration.GetByRound(roomID, roundID)
	if !ok {
		c.JSON(http.StatusOK, narrationResponse{Handle: narration.Handle{RoomID: roomID, RoundID: roundID, Status: narration.StatusIdle}})
		return
	}
	c.JSON(http.StatusOK, narrationResponse{Handle: handle})
}

var validPlaybackActions = map[string]narration.PlaybackAction{
	"play":     narration.PlaybackPlay,
	"pause":    narration.PlaybackPause,
	"stop":     narration.PlaybackStop,
	"complete": narration.PlaybackComplete,
}

func (s *Server) playbackAction(c *gin.Context) {
	jobID := c.Param("job_id")
	var req playbackActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.Validation("malformed request body"))
		return
	}
	action, ok := validPlaybackActions[req.Action]
	if !ok {
		httperr.Write(c, httperr.Validation("unknown playback action"))
		return
	}
	handle, ok := s.narration.UpdatePlayback(jobID, action)
	if !ok {
		httperr.Write(c, httperr.NotFound("unknown narration job"))
		return
	}
	c.JSON(http.StatusOK, narrationResponse{Handle: handle})
}

func (s *Server) createShare(c *gin.Context) {
	code := c.Param("code")
	roundID := c.Param("round_id")
	var req createShareRequest
	_ = c.ShouldBindJSON(&req)
	hostToken := tokenFrom(c, req.HostToken)

	var share *room.Share
	err := s.store.WithLock(code, func(r *room.Room) error {
		if r.RoundID != roundID {
			return room.ErrStateConflict
		}
		sh, err := r.CreateShare(hostToken, time.Now(), s.cfg.ShareTTL)
		if err != nil {
			return err
		}
		share = sh
		s.store.RegisterShare(sh.Token, r.ID)
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, createShareResponse{
		ShareToken: share.Token,
		ShareURL:   s.shareURL(share.Token),
		ExpiresAt:  share.ExpiresAt,
	})
}

func (s *Server) getShare(c *gin.Context) {
	token := c.Param("token")

	var resp getShareResponse
	err := s.store.WithLockByShare(token, func(r *room.Room) error {
		if r.Share == nil || r.Share.Token != token {
			return room.ErrNotFound
		}
		if time.Now().After(r.Share.ExpiresAt) {
			return room.ErrExpired
		}
		resp = getShareResponse{
			RenderedStory: r.Share.RenderedStory,
			ExpiresAt:     r.Share.ExpiresAt,
			RoomCode:      r.Share.RoomCode,
			RoundID:       r.Share.RoundID,
		}
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) shareQR(c *gin.Context) {
	token := c.Param("token")
	err := s.store.WithLockByShare(token, func(r *room.Room) error {
		if r.Share == nil || r.Share.Token != token {
			return room.ErrNotFound
		}
		if time.Now().After(r.Share.ExpiresAt) {
			return room.ErrExpired
		}
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	png, err := qrcode.Encode(s.shareURL(token), qrcode.Medium, 256)
	if err != nil {
		httperr.Write(c, httperr.Internal("could not render qr code"))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) listTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.catalogue.List()})
}

func (s *Server) getTemplate(c *gin.Context) {
	tmpl, ok := s.catalogue.Get(c.Param("id"))
	if !ok {
		httperr.Write(c, httperr.NotFound("unknown template"))
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) joinURL(code string) string {
	return fmt.Sprintf("%s/join/%s", s.publicBase, code)
}

func (s *Server) shareURL(token string) string {
	return fmt.Sprintf("%s/shared/%s", s.publicBase, token)
}
