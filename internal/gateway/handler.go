package gateway

import (
	"context"
	"net/http"

	"relay-chat/internal/services"
	"relay-chat/internal/transport/httpdto"
	"relay-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler upgrades authenticated HTTP requests into gateway connections.
type Handler struct {
	auth    *services.AuthService
	gateway *Gateway
	log     *logger.Logger
}

func NewHandler(auth *services.AuthService, gateway *Gateway, log *logger.Logger) *Handler {
	return &Handler{auth: auth, gateway: gateway, log: log}
}

func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	claims, err := h.auth.ParseAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(conn, claims.UserID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.gateway.Register(ctx, client); err != nil {
		h.log.Errorf("gateway: register %s: %v", client.ID, err)
		_ = conn.Close()
		return
	}

	go client.WriteLoop(ctx)
	client.ReadLoop(ctx, h.gateway.HandleFrame)

	h.gateway.Unregister(ctx, client)
}
