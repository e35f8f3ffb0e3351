package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/servicedesk-backend/internal/repository/common"
)

// SettingsRepository хранит настройки платформы.
type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get возвращает значение настройки или common.ErrNotFound.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, time.Time, error) {
	var row struct {
		Value     string    `db:"value"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	if err := r.db.GetContext(ctx, &row, `SELECT value, updated_at FROM platform_settings WHERE key = $1`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, common.ErrNotFound
		}
		return "", time.Time{}, fmt.Errorf("settings repository: get %w", err)
	}
	return row.Value, row.UpdatedAt, nil
}

// Set создаёт или обновляет настройку.
func (r *SettingsRepository) Set(ctx context.Context, key, value string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO platform_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, at)
	if err != nil {
		return fmt.Errorf("settings repository: set %w", err)
	}
	return nil
}
