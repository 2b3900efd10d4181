package middlewares

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/diplomas_backend/config"
)

// CorsMiddleware allows every origin outside production. In production only
// CORS_ALLOWED_ORIGINS is allowed, and nothing when it is empty.
func CorsMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if cfg.IsProduction() {
		corsConfig.AllowOrigins = cfg.CorsAllowedOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOriginFunc = func(origin string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", CorrelationIdHeader)
	return cors.New(corsConfig)
}
