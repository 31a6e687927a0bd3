package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/rungodb/pkg/sdk"
)

// NewEngine builds the HTTP API. limiter may be nil to disable rate limiting.
func NewEngine(store sdk.DocStore, limiter *Limiter) *gin.Engine {
	h := &Handler{Store: store}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	if limiter != nil {
		apiGroup.Use(limiter.Middleware())
	}
	{
		apiGroup.GET("/containers", h.ListContainers)
		apiGroup.POST("/containers/:container/entities", h.Insert)
		apiGroup.GET("/containers/:container/entities", h.List)
		apiGroup.POST("/containers/:container/query", h.Query)
		apiGroup.GET("/containers/:container/entities/:uid", h.Get)
		apiGroup.DELETE("/containers/:container/entities/:uid", h.DeleteOne)
		apiGroup.POST("/containers/:container/delete", h.Delete)
		apiGroup.GET("/export", h.Export)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
	})
	return r
}
