package socketio

import "github.com/gin-gonic/gin"

func RegisterRoutes(rg gin.IRoutes, g *Gateway) {
	h := gin.WrapH(g)
	rg.GET("/socket.io/*any", h)
	rg.POST("/socket.io/*any", h)
}
