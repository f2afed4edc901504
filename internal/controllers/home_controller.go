package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/nftbatch/internal/middleware"
	"github.com/osvaldoandrade/nftbatch/internal/services"
	"github.com/osvaldoandrade/nftbatch/internal/web"

	"github.com/gin-gonic/gin"
)

type homeController struct{ svc services.PollerService }

func NewHomeController(s services.PollerService) *homeController {
	return &homeController{svc: s}
}

func (h *homeController) Handle(c *gin.Context) {
	view, err := h.svc.Current(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		middleware.Logger(c).Error("load session view failed", "err", err)
		_ = c.Error(err)
		c.HTML(http.StatusInternalServerError, web.IndexTemplate, web.NewPage(view, ""))
		return
	}
	c.HTML(http.StatusOK, web.IndexTemplate, web.NewPage(view, ""))
}
