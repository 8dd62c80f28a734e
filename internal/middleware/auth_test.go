package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestAPIKeyAuth(t *testing.T) {
	configured := APIKeyAuthConfig{Keys: []string{"live-key-0123456789", " second-key-abcdef "}, SkipPrefixes: []string{"/api/health"}}
	open := APIKeyAuthConfig{SkipPrefixes: []string{"/api/health"}}

	tests := []struct {
		name   string
		cfg    APIKeyAuthConfig
		path   string
		header string
		want   int
	}{
		{"missing header", configured, "/api/assess-risk", "", http.StatusUnauthorized},
		{"wrong scheme", configured, "/api/assess-risk", "Basic live-key-0123456789", http.StatusUnauthorized},
		{"too short", open, "/api/assess-risk", "Bearer short", http.StatusUnauthorized},
		{"unknown key", configured, "/api/assess-risk", "Bearer some-other-key-123", http.StatusUnauthorized},
		{"configured key", configured, "/api/assess-risk", "Bearer live-key-0123456789", http.StatusOK},
		{"trimmed configured key", configured, "/api/assess-risk", "Bearer second-key-abcdef", http.StatusOK},
		{"any long key without configured keys", open, "/api/assess-risk", "Bearer anything-long-enough", http.StatusOK},
		{"health skipped", configured, "/api/health/detailed", "", http.StatusOK},
		{"disabled", APIKeyAuthConfig{Disabled: true}, "/api/assess-risk", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var keyID string
			router := gin.New()
			router.Use(APIKeyAuth(tt.cfg, zaptest.NewLogger(t)))
			handler := func(c *gin.Context) {
				keyID = c.GetString("api_key_id")
				c.Status(http.StatusOK)
			}
			router.POST("/api/assess-risk", handler)
			router.GET("/api/health/detailed", handler)

			method := http.MethodPost
			if tt.path == "/api/health/detailed" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusOK && tt.header != "" {
				assert.Len(t, keyID, 8)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	for _, production := range []bool{false, true} {
		router := gin.New()
		router.Use(SecurityHeaders(production))
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, production, w.Header().Get("Strict-Transport-Security") != "")
	}
}
