package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(cfg CORSConfig) *gin.Engine {
	router := gin.New()
	router.Use(CORS(cfg))
	router.POST("/api/assess-risk", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCORS(t *testing.T) {
	restricted := DefaultCORSConfig()
	restricted.AllowedOrigins = []string{"https://shop.example.com", " https://admin.example.com"}

	wildcard := DefaultCORSConfig()
	wildcard.AllowCredentials = false

	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		wantStatus  int
		wantAllowed string
	}{
		{"no origin passes", restricted, http.MethodPost, "", http.StatusOK, ""},
		{"listed origin", restricted, http.MethodPost, "https://shop.example.com", http.StatusOK, "https://shop.example.com"},
		{"trimmed origin", restricted, http.MethodPost, "https://admin.example.com", http.StatusOK, "https://admin.example.com"},
		{"unlisted origin", restricted, http.MethodPost, "https://evil.example.com", http.StatusForbidden, ""},
		{"wildcard with credentials echoes", DefaultCORSConfig(), http.MethodPost, "https://any.example.com", http.StatusOK, "https://any.example.com"},
		{"wildcard without credentials", wildcard, http.MethodPost, "https://any.example.com", http.StatusOK, "*"},
		{"preflight", restricted, http.MethodOptions, "https://shop.example.com", http.StatusNoContent, "https://shop.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/assess-risk", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			corsRouter(tt.cfg).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllowed, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/assess-risk", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	w := httptest.NewRecorder()
	corsRouter(DefaultCORSConfig()).ServeHTTP(w, req)

	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
