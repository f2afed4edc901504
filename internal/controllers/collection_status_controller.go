package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/nftbatch/internal/metrics"
	"github.com/osvaldoandrade/nftbatch/internal/middleware"
	"github.com/osvaldoandrade/nftbatch/internal/services"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"

	"github.com/gin-gonic/gin"
)

type outcomeResponse struct {
	Kind       domain.OutcomeKind `json:"kind"`
	Status     string             `json:"status,omitempty"`
	HTTPStatus int                `json:"httpStatus,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type collectionStatusResponse struct {
	View    domain.View     `json:"view"`
	Phase   domain.Phase    `json:"phase"`
	Outcome outcomeResponse `json:"outcome"`
}

type collectionStatusController struct{ svc services.PollerService }

func NewCollectionStatusController(s services.PollerService) *collectionStatusController {
	return &collectionStatusController{svc: s}
}

// Handle answers 200 when the backend replied with a readable status and 502
// when it could not be reached or sent something unreadable.
func (h *collectionStatusController) Handle(c *gin.Context) {
	address := domain.ContractAddress(c.Param("address")).Trimmed()
	view, out, err := h.svc.Submit(c.Request.Context(), middleware.SessionID(c), address)
	if errors.Is(err, services.ErrEmptyAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	metrics.SubmissionsTotal.WithLabelValues("api").Inc()
	if err != nil {
		middleware.Logger(c).Error("submit failed", "address", address.String(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := collectionStatusResponse{
		View:  view,
		Phase: view.Phase(),
		Outcome: outcomeResponse{
			Kind:       out.Kind,
			HTTPStatus: out.HTTPStatus,
		},
	}
	code := http.StatusOK
	if out.IsSuccess() {
		resp.Outcome.Status = out.StatusLabel()
	} else {
		resp.Outcome.Error = out.Err().Error()
		code = http.StatusBadGateway
	}
	c.JSON(code, resp)
}
