package app

import (
	"github.com/osvaldoandrade/nftbatch/internal/controllers"
	"github.com/osvaldoandrade/nftbatch/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	e := app.Engine
	submitLimit := middleware.RateLimitSubmit(app.RateLimiter, app.Config)

	e.GET("/", controllers.NewHomeController(app.Poller).Handle)
	e.POST("/collections", middleware.RateLimitSubmitForm(app.RateLimiter, app.Config, app.Poller), controllers.NewSubmitFormController(app.Poller).Handle)
	e.POST("/session/reset", controllers.NewResetSessionController(app.Poller).Handle)

	e.GET("/healthz", controllers.NewHealthController(app.Persistence).Handle)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	{
		v1.GET("/collections/:address", submitLimit, controllers.NewCollectionStatusController(app.Poller).Handle)
		v1.GET("/session", controllers.NewSessionController(app.Poller).Handle)
	}
}
