// Package api is StoryFill's HTTP command surface: every handler
// authenticates, resolves the room, acquires its lock, validates
// against the state machine, mutates, releases, publishes a snapshot,
// and responds.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"storyfill/internal/httperr"
	"storyfill/internal/moderation"
	"storyfill/internal/narration"
	"storyfill/internal/ratelimit"
	"storyfill/internal/room"
	"storyfill/internal/templates"
)

// Server wires the room store and its collaborators into gin handlers.
type Server struct {
	store      *room.Store
	catalogue  *templates.Catalogue
	limiter    *ratelimit.Limiter
	narration  *narration.Facade
	moderation moderation.Checker
	cfg        room.Config
	publicBase string // base URL used to build share/join links and QR codes
}

// Config carries everything the API layer needs beyond the room store.
type Config struct {
	RoomConfig room.Config
	PublicBase string
}

func NewServer(store *room.Store, catalogue *templates.Catalogue, limiter *ratelimit.Limiter, fac *narration.Facade, checker moderation.Checker, cfg Config) *Server {
	return &Server{
		store:      store,
		catalogue:  catalogue,
		limiter:    limiter,
		narration:  fac,
		moderation: checker,
		cfg:        cfg.RoomConfig,
		publicBase: cfg.PublicBase,
	}
}

// RegisterRoutes mounts every endpoint under the supplied router group
// (the caller passes router.Group("/v1")).
//
// The `{code}:lock`-style custom-method paths put a literal colon
// inside a path segment (Google AIP custom-method convention) rather
// than a separate segment. gin's httprouter only recognizes a leading
// colon as the start of a named param, so ":lock" inside the middle of
// a segment is just ordinary text captured by the preceding param —
// each such route is therefore registered once on the bare resource
// path and dispatched on the trailing ":action" suffix in the handler.
func (s *Server) RegisterRoutes(v1 *gin.RouterGroup) {
	v1.POST("/rooms", s.limiter.Middleware(ratelimit.BucketCreateRoom), s.createRoom)
	v1.GET("/rooms/:code/qr", s.roomQR)

	v1.POST("/rooms/:code/join", s.limiter.Middleware(ratelimit.BucketJoinRoom), s.joinRoom)
	v1.POST("/rooms/:code/leave", s.leaveRoom)
	v1.POST("/rooms/:code", s.roomAction)
	v1.POST("/rooms/:code/start", s.startRoom)
	v1.POST("/rooms/:code/reveal", s.revealRoom)
	v1.POST("/rooms/:code/replay", s.replayRoom)
	v1.POST("/rooms/:code/players/:id", s.playerAction)

	v1.GET("/rooms/:code/rounds/:round_id/prompts", s.getPrompts)
	v1.POST("/rooms/:code/rounds/:round_id/prompts/:prompt_id", s.promptAction)
	v1.GET("/rooms/:code/rounds/:round_id/story", s.getStory)
	v1.GET("/rooms/:code/rounds/:round_id/progress", s.getProgress)
	v1.POST("/rooms/:code/rounds/:round_id", s.roundAction)
	v1.GET("/rooms/:code/rounds/:round_id/tts", s.getNarration)

	v1.POST("/tts/jobs/:job_id", s.jobAction)

	v1.GET("/shares/:token", s.getShare)
	v1.GET("/shares/:token/qr", s.shareQR)

	v1.GET("/templates", s.listTemplates)
	v1.GET("/templates/:id", s.getTemplate)
}

// splitAction splits a "resource:action" path param into its resource
// id and action suffix. Room codes, round ids, player ids and job ids
// never otherwise contain ':', so the last colon is unambiguous.
func splitAction(raw string) (id, action string, ok bool) {
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == ':' {
			return raw[:i], raw[i+1:], true
		}
	}
	return raw, "", false
}

// setParam overwrites an existing gin path param in place. c.Param
// returns the first match for a key, so the dispatchers below must
// mutate the existing entry rather than append a shadowed duplicate.
func setParam(c *gin.Context, key, value string) {
	for i := range c.Params {
		if c.Params[i].Key == key {
			c.Params[i].Value = value
			return
		}
	}
	c.Params = append(c.Params, gin.Param{Key: key, Value: value})
}

func (s *Server) roomAction(c *gin.Context) {
	code, action, ok := splitAction(c.Param("code"))
	if !ok {
		httperr.Write(c, httperr.NotFound("unknown room action"))
		return
	}
	setParam(c, "code", code)
	switch action {
	case "lock":
		s.lockRoom(c)
	case "unlock":
		s.unlockRoom(c)
	case "template":
		s.setTemplate(c)
	default:
		httperr.Write(c, httperr.NotFound("unknown room action"))
	}
}

func (s *Server) playerAction(c *gin.Context) {
	playerID, action, ok := splitAction(c.Param("id"))
	if !ok {
		httperr.Write(c, httperr.NotFound("unknown player action"))
		return
	}
	setParam(c, "id", playerID)
	switch action {
	case "reconnect":
		s.reconnect(c)
	case "kick":
		s.kickPlayer(c)
	default:
		httperr.Write(c, httperr.NotFound("unknown player action"))
	}
}

func (s *Server) roundAction(c *gin.Context) {
	roundID, action, ok := splitAction(c.Param("round_id"))
	if !ok {
		httperr.Write(c, httperr.NotFound("unknown round action"))
		return
	}
	setParam(c, "round_id", roundID)
	switch action {
	case "tts":
		s.requestNarration(c)
	case "share":
		s.createShare(c)
	default:
		httperr.Write(c, httperr.NotFound("unknown round action"))
	}
}

func (s *Server) promptAction(c *gin.Context) {
	promptID, action, ok := splitAction(c.Param("prompt_id"))
	if !ok {
		httperr.Write(c, httperr.NotFound("unknown prompt action"))
		return
	}
	setParam(c, "prompt_id", promptID)
	switch action {
	case "submit":
		s.submitPrompt(c)
	default:
		httperr.Write(c, httperr.NotFound("unknown prompt action"))
	}
}

func (s *Server) jobAction(c *gin.Context) {
	jobID, action, ok := splitAction(c.Param("job_id"))
	if !ok {
		httperr.Write(c, httperr.NotFound("unknown job action"))
		return
	}
	setParam(c, "job_id", jobID)
	switch action {
	case "playback":
		s.playbackAction(c)
	default:
		httperr.Write(c, httperr.NotFound("unknown job action"))
	}
}

func writeErr(c *gin.Context, err error) {
	switch err {
	case room.ErrNotFound:
		httperr.Write(c, httperr.NotFound("room, round, or prompt not found"))
	case room.ErrAuth:
		httperr.Write(c, httperr.Auth("missing or invalid token"))
	case room.ErrStateConflict:
		httperr.Write(c, httperr.StateConflict("that action isn't valid in the room's current state"))
	case room.ErrLocked:
		httperr.Write(c, httperr.Locked("room is locked"))
	case room.ErrFull:
		httperr.Write(c, httperr.Full("room is full"))
	case room.ErrExpired:
		httperr.Write(c, httperr.Expired("room has expired"))
	case room.ErrValidation:
		httperr.Write(c, httperr.Validation("request failed validation"))
	default:
		httperr.Write(c, httperr.Internal("internal error"))
	}
}

// tokenFrom reads an auth token from the Authorization header (bearer
// scheme) or, failing that, a body/query field, for clients that still
// pass the token as a regular request field.
func tokenFrom(c *gin.Context, bodyToken string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && h[:len(prefix)] == prefix {
			return h[len(prefix):]
		}
		return h
	}
	if bodyToken != "" {
		return bodyToken
	}
	return c.Query("token")
}

// publishAndSnapshot re-reads a room under its lock, publishes a fresh
// snapshot event, and returns the snapshot/progress pair a handler
// sends back to its caller, so the HTTP response and the WebSocket
// broadcast always reflect the exact same state_version.
func publishAndSnapshot(s *Server, code string) (room.Snapshot, room.Progress, error) {
	var snap room.Snapshot
	var prog room.Progress
	err := s.store.WithLock(code, func(r *room.Room) error {
		snap = r.Snapshot()
		prog = r.Progress()
		s.store.PublishSnapshot(context.Background(), r)
		return nil
	})
	return snap, prog, err
}
