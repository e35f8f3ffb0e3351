package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/servicedesk-backend/internal/http/handlers/common"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
)

// FinanceHandler финансовая сводка пользователя.
type FinanceHandler struct {
	finance *service.FinanceService
}

func NewFinanceHandler(finance *service.FinanceService) *FinanceHandler {
	return &FinanceHandler{finance: finance}
}

// Dashboard GET /users/financial-dashboard
// Перед ответом сохранённые итоги сверяются с историей транзакций.
func (h *FinanceHandler) Dashboard(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}

	summary, err := h.finance.Summary(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
