// Package httperr is StoryFill's single error formatter: every command
// handler failure that reaches a client passes through here so the
// response shape is uniform. It carries a stable machine-readable code
// alongside the human detail since the client branches on error kind
// (expired vs. rate-limited vs. locked).
package httperr

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Code is one of StoryFill's machine-readable error kinds.
type Code string

const (
	CodeValidation    Code = "validation"
	CodeAuth          Code = "auth"
	CodeNotFound      Code = "not_found"
	CodeStateConflict Code = "state_conflict"
	CodeLocked        Code = "locked"
	CodeFull          Code = "full"
	CodeExpired       Code = "expired"
	CodeRateLimited   Code = "rate_limited"
	CodeInternal      Code = "internal"
)

var statusForCode = map[Code]int{
	CodeValidation:    http.StatusBadRequest,
	CodeAuth:          http.StatusForbidden,
	CodeNotFound:      http.StatusNotFound,
	CodeStateConflict: http.StatusConflict,
	CodeLocked:        http.StatusForbidden,
	CodeFull:          http.StatusConflict,
	CodeExpired:       http.StatusGone,
	CodeRateLimited:   http.StatusTooManyRequests,
	CodeInternal:      http.StatusInternalServerError,
}

// Error is the uniform shape every command error takes on the wire.
type Error struct {
	Detail     string `json:"detail"`
	Code       Code   `json:"code"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

func (e *Error) Error() string { return e.Detail }

func new(code Code, detail string) *Error {
	return &Error{Detail: detail, Code: code}
}

func Validation(detail string) *Error    { return new(CodeValidation, detail) }
func Auth(detail string) *Error          { return new(CodeAuth, detail) }
func NotFound(detail string) *Error      { return new(CodeNotFound, detail) }
func StateConflict(detail string) *Error { return new(CodeStateConflict, detail) }
func Locked(detail string) *Error        { return new(CodeLocked, detail) }
func Full(detail string) *Error          { return new(CodeFull, detail) }
func Expired(detail string) *Error       { return new(CodeExpired, detail) }
func Internal(detail string) *Error      { return new(CodeInternal, detail) }

// RateLimited builds a 429 carrying a retry-after hint rounded up to
// the nearest whole second.
func RateLimited(retryAfter time.Duration) *Error {
	e := new(CodeRateLimited, "too many requests, please wait before retrying")
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	e.RetryAfter = secs
	return e
}

// Write sends err as the response body with the status code matching
// its kind, aborting the gin context so no handler writes after it.
func Write(c *gin.Context, err *Error) {
	status, ok := statusForCode[err.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if err.Code == CodeRateLimited && err.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	c.AbortWithStatusJSON(status, err)
}
