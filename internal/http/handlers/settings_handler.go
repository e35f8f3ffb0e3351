package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/servicedesk-backend/internal/dto"
	"github.com/ignatzorin/servicedesk-backend/internal/http/handlers/common"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
)

// SettingsHandler настройки платформы, только для администратора.
type SettingsHandler struct {
	settings *service.SettingsService
}

func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// Get GET /admin/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Update PUT /admin/settings
// Новый период действует для сделок, начатых после изменения.
func (h *SettingsHandler) Update(c *gin.Context) {
	var req dto.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "escrowPeriodMinutes должен быть целым числом от 1 до 525600")
		return
	}

	s, err := h.settings.Update(c.Request.Context(), req.EscrowPeriodMinutes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	adminID, _ := common.CurrentUserID(c)
	logger.Log.WithFields(logrus.Fields{
		"admin_id":              adminID,
		"escrow_period_minutes": s.EscrowPeriodMinutes,
	}).Info("период удержания изменён")

	c.JSON(http.StatusOK, s)
}
