package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/noatgnu/UniprotWebParser/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unhealthy",
					"service":  "uniprot-api-service",
					"database": err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "uniprot-api-service",
		})
	})

	mappingHandler := handler.NewMappingHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/fields - Supported source and target databases
		v1.GET("/fields", mappingHandler.ListFields)

		// POST /api/v1/accessions/parse - Extract accessions from identifiers
		v1.POST("/accessions/parse", mappingHandler.ParseAccessions)

		mappings := v1.Group("/mappings")
		{
			// POST /api/v1/mappings - Resolve identifiers
			mappings.POST("", mappingHandler.CreateMapping)

			// GET /api/v1/mappings/:request_id - Journal entries of a request
			mappings.GET("/:request_id", mappingHandler.GetMapping)
		}
	}

	return r
}
