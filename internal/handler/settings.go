package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"Guardian/internal/models"
	"Guardian/pkg/errors"
	"Guardian/pkg/response"
)

type profileRequest struct {
	SenderAddress string `json:"senderAddress" binding:"required"`
	SenderName    string `json:"senderName"`
	TriggerPhrase string `json:"triggerPhrase"`
}

type contactRequest struct {
	DisplayName      string `json:"displayName"`
	Address          string `json:"address" binding:"required"`
	IsRegisteredUser bool   `json:"isRegisteredUser"`
}

func (h *Handlers) handleGetSettings(c *gin.Context) {
	s, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, s)
}

func (h *Handlers) handleSaveProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	p, err := h.settings.SaveProfile(c.Request.Context(), models.Profile{
		SenderAddress: req.SenderAddress,
		SenderName:    req.SenderName,
		TriggerPhrase: req.TriggerPhrase,
	})
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, p)
}

func (h *Handlers) handleListContacts(c *gin.Context) {
	list, err := h.settings.ListContacts(c.Request.Context())
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, list)
}

func (h *Handlers) handleAddContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, h.tr, err)
		return
	}
	ct, err := h.settings.AddContact(c.Request.Context(), models.Contact{
		DisplayName:      req.DisplayName,
		Address:          req.Address,
		IsRegisteredUser: req.IsRegisteredUser,
	})
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusCreated, ct)
}

func (h *Handlers) handleRemoveContact(c *gin.Context) {
	id, err := cast.ToUintE(c.Param("id"))
	if err != nil || id == 0 {
		response.Fail(c, h.tr, errors.WithCodef(errors.CodeInvalidRecord, "invalid contact id %q", c.Param("id")))
		return
	}
	removed, err := h.settings.RemoveContact(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, h.tr, err)
		return
	}
	response.Data(c, http.StatusOK, gin.H{"removed": removed})
}
