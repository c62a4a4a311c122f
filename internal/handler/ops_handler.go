package handler

import (
	"net/http"
	"strconv"

	"relay-chat/internal/queue"
	"relay-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// OpsHandler surfaces dead-lettered jobs for operator inspection.
type OpsHandler struct {
	queue queue.Queue
}

func NewOpsHandler(q queue.Queue) *OpsHandler {
	return &OpsHandler{queue: q}
}

func (h *OpsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ops/dead-letters/:class", h.DeadLetters)
}

func (h *OpsHandler) DeadLetters(c *gin.Context) {
	class := c.Param("class")
	switch class {
	case queue.ClassMessages, queue.ClassNotifications, queue.ClassEmail:
	default:
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unknown job class", "INVALID_INPUT"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	letters, err := h.queue.DeadLetters(c.Request.Context(), class, limit)
	if err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "DEAD_LETTERS_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(letters))
}
