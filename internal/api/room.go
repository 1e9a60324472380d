package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coderoom-io/coderoom/internal/repository"
)

// RoomHandler exposes a read-only REST view of room state. The socket is
// the authoritative channel; this surface exists for ops and debugging.
type RoomHandler struct {
	repo   repository.RoomRepository
	logger *zap.Logger
}

func NewRoomHandler(repo repository.RoomRepository, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{repo: repo, logger: logger}
}

// GetByID handles GET /api/rooms/:id
func (h *RoomHandler) GetByID(c *gin.Context) {
	roomID := c.Param("id")

	room, err := h.repo.FindOne(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("failed to get room", zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, room)
}
