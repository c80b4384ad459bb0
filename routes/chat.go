package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pdfchat-backend/internal/config"
	"pdfchat-backend/internal/ledger"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/internal/rag"
	"pdfchat-backend/middleware"
	"pdfchat-backend/models"
	"pdfchat-backend/utils"
)

// SetupChatRoutes wires the conversational endpoints: chat, feedback
// and history.
func SetupChatRoutes(router *gin.Engine, cfg *config.Config, chatService *rag.Service, store *ledger.Store) {
	router.POST("/chat", func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		resp, err := chatService.Chat(c.Request.Context(), rag.ChatParams{
			Prompt:         req.Prompt,
			SessionID:      req.SessionID,
			Limit:          req.Limit,
			ScoreThreshold: req.ScoreThreshold,
			Filter:         req.Filter,
		})
		if err != nil {
			logger.Error("Chat request failed",
				"request_id", middleware.GetRequestID(c),
				"session_id", req.SessionID,
				"error", err)
			if errors.Is(err, rag.ErrDimensionMismatch) {
				utils.RespondWithInternalError(c, "Embedding dimension does not match the vector index", nil)
				return
			}
			utils.RespondWithInternalError(c, "Failed to answer the question", nil)
			return
		}

		c.JSON(http.StatusOK, resp)
	})

	router.POST("/feedback", func(c *gin.Context) {
		var req models.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		rating := models.Rating(req.Rating)
		if !rating.Valid() {
			utils.RespondWithBadRequest(c, "Rating must be 'good' or 'bad'", gin.H{"rating": req.Rating})
			return
		}

		if err := store.RateAnswer(c.Request.Context(), req.TurnID, rating); err != nil {
			logger.Error("Failed to record feedback", "turn_id", req.TurnID, "error", err)
			utils.RespondWithInternalError(c, "Failed to record feedback", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"turn_id": req.TurnID, "rating": req.Rating})
	})

	router.GET("/history", func(c *gin.Context) {
		sessionID := c.Query("session_id")
		limit := limitQuery(c, cfg.HistoryLimitAPI)

		history, err := store.GetHistory(c.Request.Context(), sessionID, limit)
		if err != nil {
			logger.Error("Failed to load history", "session_id", sessionID, "error", err)
			utils.RespondWithInternalError(c, "Failed to load history", nil)
			return
		}

		c.JSON(http.StatusOK, models.HistoryResponse{
			History:   history,
			Count:     len(history),
			SessionID: sessionID,
		})
	})

	router.GET("/history/all", func(c *gin.Context) {
		history, err := store.ListAll(c.Request.Context(), limitQuery(c, cfg.HistoryLimitAPI))
		if err != nil {
			logger.Error("Failed to list conversations", "error", err)
			utils.RespondWithInternalError(c, "Failed to list conversations", nil)
			return
		}

		c.JSON(http.StatusOK, models.HistoryResponse{
			History: history,
			Count:   len(history),
		})
	})
}

// limitQuery reads an optional positive limit query parameter, falling
// back to the configured default.
func limitQuery(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
