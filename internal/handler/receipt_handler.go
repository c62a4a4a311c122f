package handler

import (
	"net/http"

	"relay-chat/internal/repository"
	"relay-chat/internal/services"
	"relay-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReceiptHandler exposes per-recipient delivery status for read-receipt
// rendering. Only participants of the message's conversation may look.
type ReceiptHandler struct {
	service       *services.DeliveryService
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
}

func NewReceiptHandler(
	service *services.DeliveryService,
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
) *ReceiptHandler {
	return &ReceiptHandler{service: service, messages: messages, conversations: conversations}
}

func (h *ReceiptHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/messages/:id/receipts", h.StatusOf)
}

func (h *ReceiptHandler) StatusOf(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid message id", "INVALID_INPUT"))
		return
	}

	msg, err := h.messages.GetByID(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "RECEIPTS_FAILED"))
		return
	}
	member, err := h.conversations.IsParticipant(c.Request.Context(), msg.ConversationID, userID)
	if err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "RECEIPTS_FAILED"))
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("not a participant", "FORBIDDEN"))
		return
	}

	statuses, err := h.service.StatusOf(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "RECEIPTS_FAILED"))
		return
	}

	flat := make(map[string]string, len(statuses))
	for userID, status := range statuses {
		flat[userID.String()] = status
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(flat))
}
