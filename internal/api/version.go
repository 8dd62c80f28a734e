package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/idrock/riskengine/internal/common/errors"
)

const (
	// HeaderAPIVersion carries the API version on requests and responses
	HeaderAPIVersion = "X-API-Version"

	// DefaultAPIVersion is the version served when a client does not ask for one
	DefaultAPIVersion = "1.0"
)

// VersionMiddleware adds X-API-Version to responses and rejects requests
// that ask for an unsupported version with 406
func VersionMiddleware(version string, supported []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, version)

		requested := c.GetHeader(HeaderAPIVersion)
		if requested == "" {
			c.Set("api_version", version)
			c.Next()
			return
		}

		if !isVersionSupported(requested, supported) {
			apperrors.HandleError(c, apperrors.NotAcceptable(requested, supported))
			return
		}
		c.Set("api_version", requested)
		c.Next()
	}
}

// isVersionSupported accepts both "1" and "1.0" style versions
func isVersionSupported(version string, supported []string) bool {
	for _, v := range supported {
		if v == version || strings.HasPrefix(v, version+".") {
			return true
		}
	}
	return false
}

// GetVersion extracts the negotiated API version from the gin context
func GetVersion(c *gin.Context) string {
	if v := c.GetString("api_version"); v != "" {
		return v
	}
	return DefaultAPIVersion
}
