package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docrag/internal/middleware"
)

type RouterDeps struct {
	RAG        *RAGHandler
	SyncWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/retrieve", deps.RAG.Retrieve)
	api.GET("/status", deps.RAG.Status)
	api.POST("/sync", middleware.RateLimit(deps.SyncWindow), deps.RAG.Sync)
}
