package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/nftbatch/internal/metrics"
	"github.com/osvaldoandrade/nftbatch/internal/middleware"
	"github.com/osvaldoandrade/nftbatch/internal/services"
	"github.com/osvaldoandrade/nftbatch/internal/web"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"

	"github.com/gin-gonic/gin"
)

const emptyAddressMessage = "Please enter a contract address."

type submitFormController struct{ svc services.PollerService }

func NewSubmitFormController(s services.PollerService) *submitFormController {
	return &submitFormController{svc: s}
}

func (h *submitFormController) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	sid := middleware.SessionID(c)
	address := domain.ContractAddress(c.PostForm("address")).Trimmed()

	view, _, err := h.svc.Submit(ctx, sid, address)
	if errors.Is(err, services.ErrEmptyAddress) {
		current, cerr := h.svc.Current(ctx, sid)
		if cerr != nil {
			middleware.Logger(c).Error("load session view failed", "err", cerr)
		}
		current.Error = emptyAddressMessage
		c.HTML(http.StatusBadRequest, web.IndexTemplate, web.NewPage(current, ""))
		return
	}
	metrics.SubmissionsTotal.WithLabelValues("form").Inc()
	if err != nil {
		middleware.Logger(c).Error("submit failed", "address", address.String(), "err", err)
		_ = c.Error(err)
		c.HTML(http.StatusInternalServerError, web.IndexTemplate, web.NewPage(view, address.String()))
		return
	}
	c.HTML(http.StatusOK, web.IndexTemplate, web.NewPage(view, address.String()))
}
