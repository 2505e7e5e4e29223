package message

import "github.com/gin-gonic/gin"

func RegisterRoutes(rg *gin.RouterGroup, handler Handler) {
	messages := rg.Group("/messages")
	{
		messages.GET("", handler.GetMessages)
		messages.GET("/:id", handler.GetMessageByID)
	}
}
