// Package middleware holds the gin middleware StoryFill's HTTP surface
// runs on every request.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyfill/internal/logging"
)

// HeaderXCorrelationID is the header carrying a request's correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID stamps every request and response with a correlation ID,
// reusing one the caller supplied or minting a fresh one, and stores it
// in the gin and request contexts so downstream logging picks it up.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
