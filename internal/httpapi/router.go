package httpapi

import (
	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/health"
	"licensing-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi", fx.Provide(ProvideRouter))

// ProvideRouter returns the HTTP handler exposing operational endpoints. The
// licensing API itself is served by the controller layer, which is out of
// scope here.
func ProvideRouter(cfg *config.Config, hs health.HealthService) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.Error())

	router.GET("/healthz", hs.Liveness)
	router.GET("/readyz", hs.Readiness)

	return router
}
