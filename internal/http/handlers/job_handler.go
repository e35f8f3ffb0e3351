package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/servicedesk-backend/internal/dto"
	"github.com/ignatzorin/servicedesk-backend/internal/http/handlers/common"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
	"github.com/ignatzorin/servicedesk-backend/internal/validation"
)

// JobHandler заказы и переходы сделки.
type JobHandler struct {
	escrow *service.EscrowService
}

func NewJobHandler(escrow *service.EscrowService) *JobHandler {
	return &JobHandler{escrow: escrow}
}

// CreateJob POST /jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateJobInput(req.Title, req.Description, req.Category, req.Location); err != nil {
		common.RespondAppError(c, err)
		return
	}
	if err := validation.ValidateAmount("цена", req.Price); err != nil {
		common.RespondAppError(c, err)
		return
	}

	job, err := h.escrow.CreateJob(c.Request.Context(), actor, service.CreateJobParams{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Location:     req.Location,
		Price:        req.Price,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// GetJob GET /jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	view, err := h.escrow.GetJob(c.Request.Context(), jobID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Hire POST /jobs/:id/hire
func (h *JobHandler) Hire(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	var req dto.HireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	providerID, err := common.ParseUUID(req.ProviderID, "providerId")
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	res, err := h.escrow.Hire(c.Request.Context(), actor, jobID, providerID, req.PaymentMethod)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// Complete POST /jobs/:id/complete
// Покупатель после окончания удержания или доверенный вызов автозавершения.
func (h *JobHandler) Complete(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	res, err := h.escrow.MarkComplete(c.Request.Context(), actor, jobID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "заказ завершён, средства переведены исполнителю",
		"jobId":          res.JobID,
		"providerAmount": res.ProviderAmount,
		"completedAt":    res.CompletedAt,
	})
}

// Cancel POST /jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	job, err := h.escrow.Cancel(c.Request.Context(), actor, jobID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}
