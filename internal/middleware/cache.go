package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl marks responses publicly cacheable for the given age.
// Applied to /uploads: snapshot keys are content-unique, so a long
// max-age can never serve a stale image.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}
