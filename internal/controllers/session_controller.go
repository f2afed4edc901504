package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/nftbatch/internal/middleware"
	"github.com/osvaldoandrade/nftbatch/internal/services"

	"github.com/gin-gonic/gin"
)

type sessionController struct{ svc services.PollerService }

func NewSessionController(s services.PollerService) *sessionController {
	return &sessionController{svc: s}
}

func (h *sessionController) Handle(c *gin.Context) {
	view, err := h.svc.Current(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": view, "phase": view.Phase()})
}
