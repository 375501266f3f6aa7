package route

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardtracker/controller"
)

type Options struct {
	Cards *controller.CardController
	// Gatherer backs GET /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
	// UploadDir is served under UploadURLPrefix when set.
	UploadDir       string
	UploadURLPrefix string
	// API middleware, applied to /api only.
	APIMiddleware []gin.HandlerFunc
}

func Register(router *gin.Engine, o Options) {
	router.GET("/", controller.Root)
	router.GET("/health", controller.Health)

	if o.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{})))
	}
	if o.UploadDir != "" && o.UploadURLPrefix != "" {
		router.StaticFS(o.UploadURLPrefix, gin.Dir(o.UploadDir, false))
	}

	api := router.Group("/api")
	api.Use(o.APIMiddleware...)
	api.POST("/cards/scan", o.Cards.ScanCard)
	api.GET("/cards", o.Cards.ListCards)
	api.GET("/cards/:id", o.Cards.GetCard)
	api.DELETE("/cards/:id", o.Cards.DeleteCard)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}
