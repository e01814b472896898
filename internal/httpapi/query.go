// Package httpapi exposes the memory-retrieval agent over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngyygm/temporal-memory-agent/internal/agent"
)

// QueryHandler wraps an Orchestrator for the query endpoint.
type QueryHandler struct {
	orchestrator *agent.Orchestrator
}

func NewQueryHandler(orchestrator *agent.Orchestrator) *QueryHandler {
	return &QueryHandler{orchestrator: orchestrator}
}

type queryRequest struct {
	Question     string              `json:"question"`
	Conversation []map[string]string `json:"conversation"`
}

// Query runs one question through the ReAct loop and returns the full
// structured result.
func (h *QueryHandler) Query(c *gin.Context) {
	ctx := c.Request.Context()

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "httpapi: invalid query request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var input any = req.Question
	if len(req.Conversation) > 0 {
		input = req.Conversation
	}
	if agent.ExtractQuestion(input) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question or conversation is required"})
		return
	}

	result := h.orchestrator.Query(ctx, input)
	c.JSON(http.StatusOK, result)
}
