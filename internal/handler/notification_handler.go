package handler

import (
	"net/http"
	"strconv"

	"relay-chat/internal/middleware"
	"relay-chat/internal/services"
	"relay-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type NotificationHandler struct {
	service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

func (h *NotificationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/notifications", h.List)
	rg.POST("/notifications/:id/read", h.MarkRead)
	rg.DELETE("/notifications/:id", h.Delete)
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	notifications, total, err := h.service.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "LIST_FAILED"))
		return
	}
	unread, err := h.service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		unread = 0
	}

	items := make([]httpdto.NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, httpdto.FromNotification(n))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.NotificationListResponse{
		Notifications: items,
		Total:         total,
		Unread:        unread,
	}))
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid notification id", "INVALID_INPUT"))
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), id, userID); err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "MARK_READ_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"id": id}))
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid notification id", "INVALID_INPUT"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id, userID); err != nil {
		c.JSON(httpdto.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "DELETE_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"id": id}))
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString(middleware.UserIDKey)
	userID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return uuid.Nil, false
	}
	return userID, true
}
