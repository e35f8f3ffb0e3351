package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ignatzorin/servicedesk-backend/internal/config"
	domainrepo "github.com/ignatzorin/servicedesk-backend/internal/domain/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
	"github.com/ignatzorin/servicedesk-backend/internal/repository/common"
)

const (
	// SettingEscrowPeriodMinutes ключ периода удержания в platform_settings.
	SettingEscrowPeriodMinutes = "escrow_period_minutes"

	settingsCacheTTL = 15 * time.Second
)

// SettingsService настройки платформы, которые меняет администратор.
type SettingsService struct {
	repo     domainrepo.SettingsRepository
	fallback time.Duration
	cache    *ttlCache
	now      func() time.Time
}

// NewSettingsService создаёт сервис. fallback используется, пока оператор не задал значение.
func NewSettingsService(repo domainrepo.SettingsRepository, fallback time.Duration) *SettingsService {
	return &SettingsService{
		repo:     repo,
		fallback: fallback,
		cache:    newTTLCache(settingsCacheTTL),
		now:      time.Now,
	}
}

// EscrowPeriod текущий период удержания для новых сделок.
func (s *SettingsService) EscrowPeriod(ctx context.Context) (time.Duration, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return 0, err
	}
	return time.Duration(settings.EscrowPeriodMinutes) * time.Minute, nil
}

// Get возвращает настройки.
func (s *SettingsService) Get(ctx context.Context) (*models.PlatformSettings, error) {
	if v, ok := s.cache.Get(SettingEscrowPeriodMinutes); ok {
		cp := v.(models.PlatformSettings)
		return &cp, nil
	}

	settings := models.PlatformSettings{EscrowPeriodMinutes: int64(s.fallback / time.Minute)}
	raw, at, err := s.repo.Get(ctx, SettingEscrowPeriodMinutes)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		minutes, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || minutes <= 0 {
			return nil, apperror.Wrap(perr, apperror.ErrCodeInternal, "некорректное значение периода удержания")
		}
		settings.EscrowPeriodMinutes = minutes
		settings.UpdatedAt = at
	}

	s.cache.Set(SettingEscrowPeriodMinutes, settings)
	return &settings, nil
}

// Update меняет период удержания. Уже начатые сделки сохраняют свою дату.
func (s *SettingsService) Update(ctx context.Context, minutes int64) (*models.PlatformSettings, error) {
	if minutes <= 0 || minutes > config.MaxEscrowPeriodMinutes {
		return nil, apperror.New(apperror.ErrCodeValidation, "период удержания должен быть от 1 минуты до 1 года")
	}

	now := s.now()
	if err := s.repo.Set(ctx, SettingEscrowPeriodMinutes, strconv.FormatInt(minutes, 10), now); err != nil {
		return nil, err
	}
	s.cache.Delete(SettingEscrowPeriodMinutes)

	return &models.PlatformSettings{EscrowPeriodMinutes: minutes, UpdatedAt: now}, nil
}
