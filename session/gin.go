package session

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/internal/logging"
)

const contextKey = "session"

// Middleware starts the session for every request and stores it on the gin context
func Middleware(g *Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := g.Start(c.Request.Context(), c.Writer, c.Request)
		if err != nil {
			logging.Error().Err(err).Str("path", c.Request.URL.Path).Msg("failed to start session")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "session_unavailable",
				"message": "Session store is unavailable",
			})
			return
		}
		SetContext(c, sess)
		c.Next()
	}
}

// SetContext stores sess on the gin context
func SetContext(c *gin.Context, sess *Session) {
	c.Set(contextKey, sess)
}

// FromContext returns the session set by Middleware, or nil
func FromContext(c *gin.Context) *Session {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}
