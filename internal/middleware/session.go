package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/provexa/proctor-backend/internal/response"
	"github.com/provexa/proctor-backend/internal/service"
)

// CheckExamSessionActive validates the JWT's JTI against the session
// registry in Redis. The registration is removed when the attempt is
// finalized, so requests with a stale token are rejected even though the
// JWT itself is still within its expiry.
func CheckExamSessionActive(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		// Only enforce for exam tokens.
		if claims.TokenType != service.TokenTypeExam {
			c.Next()
			return
		}

		if err := authService.ValidateExamSession(c.Request.Context(), claims.TestStudentID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionEnded)
			return
		}

		c.Next()
	}
}
