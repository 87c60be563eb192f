package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"Guardian/internal/geo"
	"Guardian/pkg/response"
)

type transcriptRequest struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// permissionRequest 只更新出现的字段
type permissionRequest struct {
	Location   *bool `json:"location"`
	Microphone *bool `json:"microphone"`
}

// handleDeviceLocation 设备上报定位，进行中的告警通过位置订阅自动跟进
func (h *Handlers) handleDeviceLocation(c *gin.Context) {
	var fix geo.Coordinate
	if err := c.ShouldBindJSON(&fix); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = time.Now()
	}
	if err := h.location.Push(fix); err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handlers) handleDeviceTranscript(c *gin.Context) {
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusAccepted, gin.H{"accepted": h.speech.Push(req.Text, req.Final)})
}

func (h *Handlers) handleDevicePermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	if req.Location != nil {
		h.location.SetPermission(*req.Location)
	}
	if req.Microphone != nil {
		h.speech.SetPermission(*req.Microphone)
	}
	c.Status(http.StatusNoContent)
}
