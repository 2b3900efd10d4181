package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReadinessMiddleware answers 503 until ready reports true. The health and metrics
// endpoints are always served so probes work while dependencies connect.
func ReadinessMiddleware(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		if ready == nil || !ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}
		c.Next()
	}
}
