package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ESCROW_PERIOD_MINUTES", "14400")
	t.Setenv("SERVICE_FEE_RATE", "0.10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 10*24*time.Hour, cfg.Escrow.EscrowPeriod())
	assert.True(t, cfg.Escrow.ServiceFeeRate.Equal(decimal.RequireFromString("0.1")))
	assert.NotEmpty(t, cfg.Escrow.AutoCompleteToken)
	assert.Equal(t, time.Minute, cfg.Scheduler.SweepInterval)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadFeeRate(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("SERVICE_FEE_RATE", "1.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositivePeriod(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("SERVICE_FEE_RATE", "0.10")
	t.Setenv("ESCROW_PERIOD_MINUTES", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsPeriodAboveYear(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("SERVICE_FEE_RATE", "0.10")

	t.Setenv("ESCROW_PERIOD_MINUTES", "525601")
	_, err := Load()
	assert.Error(t, err)

	// без предела Duration переполнился бы и срок оказался в прошлом
	t.Setenv("ESCROW_PERIOD_MINUTES", "9223372036854775807")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("ESCROW_PERIOD_MINUTES", "525600")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 365*24*time.Hour, cfg.Escrow.EscrowPeriod())
}
