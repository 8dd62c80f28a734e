package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNew(t *testing.T) {
	err := New(ErrBadRequest, "Test error", http.StatusBadRequest)

	assert.Equal(t, ErrBadRequest, err.Code)
	assert.Equal(t, "Test error", err.Message)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Nil(t, err.Err)
}

func TestInternal_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := Internal("Risk assessment failed", originalErr)

	assert.Equal(t, ErrInternal, err.Code)
	assert.Equal(t, "Risk assessment failed", err.Message)
	assert.Equal(t, originalErr, err.Unwrap())
	assert.ErrorIs(t, fmt.Errorf("handler: %w", err), originalErr)
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "Error without details",
			err:      &AppError{Code: ErrValidation, Message: "Session ID is required"},
			expected: "[VALIDATION_ERROR] Session ID is required",
		},
		{
			name:     "Error with details",
			err:      &AppError{Code: ErrValidation, Message: "Invalid request", Details: "sessionId"},
			expected: "[VALIDATION_ERROR] Invalid request: sessionId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_WithMetadata(t *testing.T) {
	err := NotAcceptable("2.0", []string{"1.0"})
	assert.Equal(t, []string{"1.0"}, err.Metadata["supported_versions"])
	assert.Equal(t, "2.0", err.Details)

	err.WithMetadata("requested", "2.0").WithDetails("X-API-Version")
	assert.Len(t, err.Metadata, 2)
	assert.Equal(t, "X-API-Version", err.Details)
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            *AppError
		expectedCode   ErrorCode
		expectedStatus int
	}{
		{"Internal", Internal("System error", nil), ErrInternal, http.StatusInternalServerError},
		{"NotFound", NotFound("Session"), ErrNotFound, http.StatusNotFound},
		{"BadRequest", BadRequest("Invalid input"), ErrBadRequest, http.StatusBadRequest},
		{"Unauthorized", Unauthorized("Missing API key"), ErrUnauthorized, http.StatusUnauthorized},
		{"Forbidden", Forbidden("Invalid API key"), ErrForbidden, http.StatusForbidden},
		{"ValidationError", ValidationError("Event type is required"), ErrValidation, http.StatusBadRequest},
		{"RateLimit", RateLimit("Too many requests"), ErrRateLimit, http.StatusTooManyRequests},
		{"NotAcceptable", NotAcceptable("3", []string{"1.0"}), ErrNotAcceptable, http.StatusNotAcceptable},
		{"DatabaseError", DatabaseError("select", errors.New("conn refused")), ErrDatabase, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedCode, tt.err.Code)
			assert.Equal(t, tt.expectedStatus, tt.err.StatusCode)
		})
	}
}

func TestAs_FollowsWrapping(t *testing.T) {
	inner := ValidationError("Session ID is required")
	wrapped := fmt.Errorf("assess: %w", inner)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.Equal(t, http.StatusBadRequest, got.StatusCode)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"app error", RateLimit("Too many requests"), http.StatusTooManyRequests, ErrRateLimit},
		{"wrapped app error", fmt.Errorf("handler: %w", NotFound("Session")), http.StatusNotFound, ErrNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Set("request_id", "req-42")

			HandleError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.True(t, c.IsAborted())

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantCode, body.Error)
			assert.Equal(t, "req-42", body.RequestID)
			assert.NotEmpty(t, body.Timestamp)
		})
	}
}

func TestErrorHandler_RecoversPanics(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/app", func(c *gin.Context) { panic(Forbidden("nope")) })
	r.GET("/err", func(c *gin.Context) { panic(errors.New("kaboom")) })
	r.GET("/value", func(c *gin.Context) { panic(42) })

	tests := []struct {
		path string
		want int
	}{
		{"/app", http.StatusForbidden},
		{"/err", http.StatusInternalServerError},
		{"/value", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, w.Code, tt.path)
	}
}
