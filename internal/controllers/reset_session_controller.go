package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/nftbatch/internal/middleware"
	"github.com/osvaldoandrade/nftbatch/internal/services"

	"github.com/gin-gonic/gin"
)

type resetSessionController struct{ svc services.PollerService }

func NewResetSessionController(s services.PollerService) *resetSessionController {
	return &resetSessionController{svc: s}
}

func (h *resetSessionController) Handle(c *gin.Context) {
	if err := h.svc.Reset(c.Request.Context(), middleware.SessionID(c)); err != nil {
		middleware.Logger(c).Error("reset session failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}
