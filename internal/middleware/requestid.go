// Package middleware provides the Gin middleware of the risk service API
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXRequestID is the request correlation header
const HeaderXRequestID = "X-Request-ID"

// maxRequestIDLength bounds client supplied IDs so they cannot bloat logs
const maxRequestIDLength = 128

type contextKey string

// RequestIDKey is the Gin and context.Context key of the request ID
const RequestIDKey contextKey = "request_id"

// GetRequestID retrieves the request ID from the Gin context
func GetRequestID(c *gin.Context) string {
	return c.GetString(string(RequestIDKey))
}

// GetRequestIDFromContext retrieves the request ID from a context.Context
func GetRequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// ContextWithRequestID adds a request ID to a context.Context
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDGenerator produces new request IDs
type RequestIDGenerator func() string

// RequestID tags each request with an ID taken from X-Request-ID when it is
// usable, otherwise a fresh UUID. The ID is stored in the Gin context, the
// request context and the response header.
func RequestID() gin.HandlerFunc {
	return RequestIDWithGenerator(uuid.NewString)
}

// RequestIDWithGenerator is RequestID with a custom ID generator
func RequestIDWithGenerator(generator RequestIDGenerator) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if !validRequestID(requestID) {
			requestID = generator()
		}

		c.Set(string(RequestIDKey), requestID)
		c.Request = c.Request.WithContext(ContextWithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
