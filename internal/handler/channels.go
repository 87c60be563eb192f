package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"Guardian/internal/channel"
	"Guardian/pkg/errors"
	"Guardian/pkg/response"
)

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handlers) channelKey(c *gin.Context) (string, bool) {
	key := c.Param("key")
	if !channel.ValidKey(key) {
		response.Fail(c, h.tr, errors.WithCodef(errors.CodeInvalidRecord, "invalid channel key %q", key))
		return "", false
	}
	return key, true
}

// handlePair 两个地址得到同一个频道，与顺序和大小写无关
func (h *Handlers) handlePair(c *gin.Context) {
	a, b := strings.TrimSpace(c.Query("a")), strings.TrimSpace(c.Query("b"))
	if a == "" || b == "" {
		response.Fail(c, h.tr, errors.WithCode(errors.CodeInvalidRecord, "both a and b are required"))
		return
	}
	response.Data(c, http.StatusOK, gin.H{"key": channel.DeriveChannel(a, b)})
}

func (h *Handlers) handleRecords(c *gin.Context) {
	key, ok := h.channelKey(c)
	if !ok {
		return
	}
	recs, err := h.mgr.Read(c.Request.Context(), key)
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, recs)
}

func (h *Handlers) handlePostMessage(c *gin.Context) {
	key, ok := h.channelKey(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	rec, err := h.mgr.PostMessage(c.Request.Context(), key, req.Text)
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusCreated, rec)
}

func (h *Handlers) handleChannelWS(c *gin.Context) {
	key, ok := h.channelKey(c)
	if !ok {
		return
	}
	if h.ws == nil {
		response.Fail(c, h.tr, errors.WithCode(errors.CodeTriggerEngine, "websocket disabled"))
		return
	}
	h.ws.Serve(c, key)
}

func (h *Handlers) handleWSStats(c *gin.Context) {
	if h.ws == nil {
		response.Data(c, http.StatusOK, gin.H{"total_connections": 0})
		return
	}
	h.ws.GetStats(c)
}
