package handlers

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"Guardian/internal/models"
	"Guardian/pkg/errors"
	"Guardian/pkg/response"
)

type armRequest struct {
	Phrase string `json:"phrase"`
}

type triggerRequest struct {
	Reason string `json:"reason"`
}

type checkInRequest struct {
	Seconds int `json:"seconds" binding:"required,min=1"`
}

// bindOptional 允许空请求体
func bindOptional(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// detached 告警操作不随客户端断开而中止
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *Handlers) handleArmDetection(c *gin.Context) {
	var req armRequest
	if err := bindOptional(c, &req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	if err := h.mgr.ArmDetection(c.Request.Context(), req.Phrase); err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, h.mgr.Active())
}

func (h *Handlers) handleDisarmDetection(c *gin.Context) {
	h.mgr.DisarmDetection()
	response.Data(c, http.StatusOK, h.mgr.Active())
}

// handleTrigger 手动触发。已有进行中的告警时返回它（200），新建时 201
func (h *Handlers) handleTrigger(c *gin.Context) {
	var req triggerRequest
	if err := bindOptional(c, &req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	prev := h.mgr.Active()
	a, err := h.mgr.ManualTrigger(detached(c), req.Reason)
	if err != nil {
		h.log.Warn("manual trigger failed", zap.Error(err))
		response.Fail(c, h.tr, err)
		return
	}
	status := http.StatusCreated
	if prev.Alert != nil && prev.Alert.ID == a.ID {
		status = http.StatusOK
	}
	response.Data(c, status, gin.H{"alert": a, "warning": h.mgr.Active().Warning})
}

func (h *Handlers) handleSafe(c *gin.Context) {
	id := c.Param("id")
	if err := h.mgr.CancelAlert(detached(c), id); err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	a, err := h.mgr.Get(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, a)
}

func (h *Handlers) handleActive(c *gin.Context) {
	response.Data(c, http.StatusOK, h.mgr.Active())
}

func (h *Handlers) handleGetAlert(c *gin.Context) {
	a, err := h.mgr.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, a)
}

func (h *Handlers) handleAlertActions(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.mgr.Get(c.Request.Context(), id); err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	if h.actions == nil {
		response.Data(c, http.StatusOK, []models.AlertAction{})
		return
	}
	hist, err := h.actions.History(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, hist)
}

func (h *Handlers) handleEvents(c *gin.Context) {
	if h.events == nil {
		response.Fail(c, h.tr, errors.WithCode(errors.CodeTriggerEngine, "event stream disabled"))
		return
	}
	h.events.Serve(c, "ui_"+uuid.NewString())
}

func (h *Handlers) handleStartCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	due, err := h.mgr.StartCheckIn(time.Duration(req.Seconds) * time.Second)
	if err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, gin.H{"due": due})
}

func (h *Handlers) handleConfirmCheckIn(c *gin.Context) {
	h.mgr.ConfirmCheckIn()
	response.Data(c, http.StatusOK, h.mgr.Active())
}
