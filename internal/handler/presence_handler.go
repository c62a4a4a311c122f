package handler

import (
	"context"
	"net/http"

	"relay-chat/internal/redis"
	"relay-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PresenceReader is the slice of the presence store the handler needs.
type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (*redis.PresenceRecord, error)
}

// PresenceHandler answers "is this user online, and if not, when were they
// last seen" for contact list rendering.
type PresenceHandler struct {
	presence PresenceReader
}

func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/presence/:id", h.Get)
}

func (h *PresenceHandler) Get(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid user id", "INVALID_INPUT"))
		return
	}

	rec, err := h.presence.GetPresence(c.Request.Context(), userID.String())
	if err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "PRESENCE_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(rec))
}
