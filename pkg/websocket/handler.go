package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler WebSocket HTTP处理器
type Handler struct {
	hub *Hub
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Serve 升级连接并订阅 group
func (h *Handler) Serve(c *gin.Context, group string) {
	if h.hub.GetConnectionCount() >= h.hub.config.MaxConnections {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrConnectionLimitExceeded})
		return
	}
	HandleWebSocket(h.hub, c.Writer, c.Request, group)
}

// GetStats 获取WebSocket统计信息
func (h *Handler) GetStats(c *gin.Context) {
	h.hub.mu.RLock()
	groups := len(h.hub.groups)
	h.hub.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"total_connections":  h.hub.GetConnectionCount(),
		"groups":             groups,
		"max_connections":    h.hub.config.MaxConnections,
		"heartbeat_interval": h.hub.config.HeartbeatInterval.String(),
		"connection_timeout": h.hub.config.ConnectionTimeout.String(),
		"enable_compression": h.hub.config.EnableCompression,
	})
}
