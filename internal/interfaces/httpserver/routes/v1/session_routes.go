package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/zapqual/engine/internal/interfaces/httpserver/handlers"
)

func registerSessionRoutes(router gin.IRoutes, handler *handlers.SessionHandler) {
	router.GET("/sessions/:org_id/:address", handler.Get)
	router.GET("/sessions/:org_id/:address/messages", handler.Messages)
}
