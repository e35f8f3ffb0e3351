package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func hiredJob(t *testing.T) (*models.Job, *models.Transaction, uuid.UUID) {
	t.Helper()
	buyer := uuid.New()
	provider := uuid.New()

	job, err := NewJob(buyer, "Починить кран", "Течёт кран на кухне", "plumbing", "Москва", decimal.NewFromInt(100), nil, baseTime)
	require.NoError(t, err)
	require.NoError(t, CheckHire(job, Actor{UserID: buyer}, provider))
	ApplyHire(job, provider, baseTime)

	charge, err := valueobject.NewCharge(job.Price, valueobject.DefaultFeeRate)
	require.NoError(t, err)
	tx := NewJobPayment(job, charge, "ORDER-1", models.PaymentMethodPayPal, baseTime)
	return job, tx, provider
}

func TestNewJob_Validation(t *testing.T) {
	_, err := NewJob(uuid.New(), "", "desc", "", "", decimal.NewFromInt(10), nil, baseTime)
	assert.True(t, apperror.IsValidation(err))

	_, err = NewJob(uuid.New(), "title", "desc", "", "", decimal.Zero, nil, baseTime)
	assert.True(t, apperror.IsValidation(err))

	past := baseTime.Add(-time.Hour)
	_, err = NewJob(uuid.New(), "title", "desc", "", "", decimal.NewFromInt(10), &past, baseTime)
	assert.True(t, apperror.IsValidation(err))
}

func TestCheckHire(t *testing.T) {
	buyer := uuid.New()
	job, err := NewJob(buyer, "t", "d", "", "", decimal.NewFromInt(10), nil, baseTime)
	require.NoError(t, err)

	assert.True(t, apperror.IsForbidden(CheckHire(job, Actor{UserID: uuid.New()}, uuid.New())))
	assert.True(t, apperror.IsValidation(CheckHire(job, Actor{UserID: buyer}, buyer)))

	job.Status = valueobject.JobStatusCancelled
	assert.True(t, apperror.IsInvalidState(CheckHire(job, Actor{UserID: buyer}, uuid.New())))
}

func TestCheckRehire(t *testing.T) {
	_, tx, _ := hiredJob(t)
	require.NoError(t, CheckRehire())
	require.NoError(t, CheckRehire(*tx))

	approvedAt := baseTime
	tx.ApprovedAt = &approvedAt
	assert.True(t, apperror.IsInvalidState(CheckRehire(*tx)))

	tx.ApprovedAt = nil
	tx.Status = valueobject.TransactionStatusInEscrow
	assert.True(t, apperror.IsInvalidState(CheckRehire(*tx)))

	withdrawal := models.Transaction{Type: valueobject.TransactionTypeWithdrawal, Status: valueobject.TransactionStatusInEscrow}
	assert.NoError(t, CheckRehire(withdrawal))
}

func TestStartEscrow_HappyPath(t *testing.T) {
	job, tx, _ := hiredJob(t)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(110)))
	assert.True(t, tx.ServiceFee.Equal(decimal.NewFromInt(10)))

	require.NoError(t, CheckStartEscrow(job, tx))
	end := baseTime.Add(10 * 24 * time.Hour)
	ApplyStartEscrow(job, tx, end, baseTime)

	assert.Equal(t, valueobject.JobStatusInProgress, job.Status)
	assert.Equal(t, valueobject.PaymentStatusInEscrow, job.PaymentStatus)
	assert.Equal(t, tx.ID, *job.TransactionID)
	assert.Equal(t, end, *job.EscrowEndDate)
	assert.Equal(t, valueobject.TransactionStatusInEscrow, tx.Status)

	// повторное списание
	assert.True(t, apperror.IsDuplicateEscrow(CheckStartEscrow(job, tx)))
}

func TestStartEscrow_RequiresProviderAndActiveJob(t *testing.T) {
	job, tx, _ := hiredJob(t)
	job.HiredProvider = nil
	assert.True(t, apperror.IsInvalidState(CheckStartEscrow(job, tx)))

	job, tx, _ = hiredJob(t)
	job.Status = valueobject.JobStatusCancelled
	assert.True(t, apperror.IsInvalidState(CheckStartEscrow(job, tx)))

	job, tx, _ = hiredJob(t)
	tx.Status = valueobject.TransactionStatusFailed
	assert.True(t, apperror.IsInvalidState(CheckStartEscrow(job, tx)))
}

func TestCheckComplete(t *testing.T) {
	job, tx, provider := hiredJob(t)
	end := baseTime.Add(time.Hour)
	ApplyStartEscrow(job, tx, end, baseTime)
	buyer := Actor{UserID: job.PostedBy}

	t.Run("buyer before end", func(t *testing.T) {
		err := CheckComplete(job, buyer, end.Add(-90*time.Second-time.Millisecond))
		secs, ok := apperror.SecondsRemaining(err)
		require.True(t, ok)
		assert.Equal(t, int64(91), secs)
	})

	t.Run("buyer at end", func(t *testing.T) {
		assert.NoError(t, CheckComplete(job, buyer, end))
	})

	t.Run("auto-complete bypasses guards", func(t *testing.T) {
		assert.NoError(t, CheckComplete(job, SystemActor(), baseTime))
	})

	t.Run("provider is forbidden", func(t *testing.T) {
		assert.True(t, apperror.IsForbidden(CheckComplete(job, Actor{UserID: provider}, end)))
	})

	t.Run("admin waits for the end too", func(t *testing.T) {
		admin := Actor{UserID: uuid.New(), Role: models.RoleAdmin}
		_, ok := apperror.SecondsRemaining(CheckComplete(job, admin, baseTime))
		assert.True(t, ok)
		assert.NoError(t, CheckComplete(job, admin, end))
	})

	t.Run("not in progress", func(t *testing.T) {
		ApplyRelease(job, tx, end)
		assert.True(t, apperror.IsInvalidState(CheckComplete(job, SystemActor(), end)))
	})
}

func TestApplyRelease(t *testing.T) {
	job, tx, provider := hiredJob(t)
	ApplyStartEscrow(job, tx, baseTime, baseTime)
	ApplyRelease(job, tx, baseTime)

	assert.Equal(t, valueobject.JobStatusCompleted, job.Status)
	assert.Equal(t, valueobject.PaymentStatusReleased, job.PaymentStatus)
	assert.Nil(t, job.EscrowEndDate)
	assert.Equal(t, provider, *tx.ProviderID)
	assert.True(t, tx.ProviderAmount().Equal(decimal.NewFromInt(100)))
}

func TestCheckCancel(t *testing.T) {
	job, _, provider := hiredJob(t)

	assert.True(t, apperror.IsForbidden(CheckCancel(job, Actor{UserID: provider})))
	require.NoError(t, CheckCancel(job, Actor{UserID: job.PostedBy}))

	ApplyCancel(job, baseTime)
	assert.Equal(t, valueobject.JobStatusCancelled, job.Status)
	assert.True(t, apperror.IsInvalidState(CheckCancel(job, Actor{UserID: job.PostedBy})))
}

func TestDenyPayment(t *testing.T) {
	job, tx, _ := hiredJob(t)

	noop, err := CheckDenyPayment(job, tx)
	require.NoError(t, err)
	assert.False(t, noop)

	ApplyDenyPayment(job, tx, baseTime)
	assert.Equal(t, valueobject.JobStatusActive, job.Status)
	assert.Equal(t, valueobject.PaymentStatusPending, job.PaymentStatus)
	assert.Nil(t, job.HiredProvider)
	assert.Equal(t, valueobject.TransactionStatusFailed, tx.Status)

	noop, err = CheckDenyPayment(job, tx)
	require.NoError(t, err)
	assert.True(t, noop)
}

func TestDenyPayment_AfterReleaseIsRejected(t *testing.T) {
	job, tx, _ := hiredJob(t)
	ApplyStartEscrow(job, tx, baseTime, baseTime)
	ApplyRelease(job, tx, baseTime)

	_, err := CheckDenyPayment(job, tx)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDenyPayment_StaleTransactionKeepsJob(t *testing.T) {
	job, tx, _ := hiredJob(t)
	ApplyStartEscrow(job, tx, baseTime, baseTime)

	stale := *tx
	stale.ID = uuid.New()
	stale.Status = valueobject.TransactionStatusPendingCapture

	_, err := CheckDenyPayment(job, &stale)
	assert.True(t, apperror.IsInvalidState(err))
}
