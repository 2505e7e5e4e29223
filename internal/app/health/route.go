package health

import "github.com/gin-gonic/gin"

func RegisterLivenessRoute(rg gin.IRoutes, handler Handler) {
	rg.GET("/health", handler.Liveness)
}

func RegisterRoutes(rg gin.IRoutes, handler Handler) {
	rg.GET("/health", handler.Check)
}
