package rpc

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbot/model"
)

func (s *Service) HandleListModels(c *gin.Context) {
	models := s.resolver.Catalog(c.Request.Context())
	if models == nil {
		models = []model.ModelInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Service) HandlePullModel(c *gin.Context) {
	name := c.Param("name")
	if err := s.ollama.Pull(c.Request.Context(), name); err != nil {
		zap.S().Errorw("pull model", "model", name, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to pull model %s", name)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Model %s pulled successfully", name)})
}
