package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coderoom-io/coderoom/internal/exec"
)

// ExecuteHandler proxies code execution to the remote collaborator so the
// poll loop lives server-side in one place. The caller takes the result
// and emits it over the socket as output-details itself.
type ExecuteHandler struct {
	client *exec.Client
	logger *zap.Logger
}

func NewExecuteHandler(client *exec.Client, logger *zap.Logger) *ExecuteHandler {
	return &ExecuteHandler{client: client, logger: logger}
}

type executeRequest struct {
	LanguageID int    `json:"languageId" binding:"required"`
	SourceCode string `json:"sourceCode" binding:"required"`
	Stdin      string `json:"stdin"`
}

// Execute handles POST /api/execute
func (h *ExecuteHandler) Execute(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution service not configured"})
		return
	}

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The request context cancels when the caller disconnects, which
	// aborts the poll loop mid-flight.
	result, err := h.client.Execute(c.Request.Context(), req.LanguageID, req.SourceCode, req.Stdin)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("execution failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "execution service error"})
		return
	}

	c.JSON(http.StatusOK, result)
}
