package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/entity"
	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/gateway"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

func TestEscrowService_Hire_FixesFee(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "100")

	res := f.hire(t, job)
	assert.Equal(t, "https://paypal.test/approve", res.ApproveURL)
	assert.True(t, res.Transaction.ServiceFee.Equal(decimal.NewFromInt(10)))
	assert.True(t, res.Transaction.Amount.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, valueobject.TransactionStatusPendingCapture, res.Transaction.Status)

	stored, err := f.store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.HiredProvider)
	assert.Equal(t, f.provider.ID, *stored.HiredProvider)
	assert.Equal(t, valueobject.JobStatusActive, stored.Status)
	f.gw.AssertExpectations(t)
}

func TestEscrowService_Hire_GatewayFailureLeavesJobUntouched(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "50")
	f.gw.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, gateway.ErrUnavailable).Once()

	_, err := f.escrow.Hire(context.Background(), f.buyerActor(), job.ID, f.provider.ID, models.PaymentMethodPayPal)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeGateway))
	assert.True(t, errors.Is(err, gateway.ErrUnavailable))

	stored, err := f.store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.HiredProvider)
	_, err = f.store.Transactions().LatestForJob(context.Background(), job.ID)
	assert.True(t, errors.Is(err, apperror.ErrTransactionNotFound))
}

func TestEscrowService_Hire_Guards(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "50")

	_, err := f.escrow.Hire(context.Background(), entity.Actor{UserID: f.provider.ID}, job.ID, f.provider.ID, "")
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.escrow.Hire(context.Background(), f.buyerActor(), job.ID, f.provider.ID, "bitcoin")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.escrow.Hire(context.Background(), f.buyerActor(), uuid.New(), f.provider.ID, "")
	assert.True(t, errors.Is(err, apperror.ErrJobNotFound))
	f.gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestEscrowService_StartEscrow(t *testing.T) {
	f := newFixture(t)
	job, hired := f.inEscrow(t, "100")

	assert.Equal(t, valueobject.JobStatusInProgress, job.Status)
	assert.Equal(t, valueobject.PaymentStatusInEscrow, job.PaymentStatus)
	require.NotNil(t, job.EscrowEndDate)
	assert.Equal(t, f.now.Add(testEscrowPeriod), *job.EscrowEndDate)
	assert.Equal(t, hired.Transaction.ID, *job.TransactionID)

	// покупатель платит цену плюс комиссию
	assert.True(t, f.user(t, f.buyer.ID).TotalSpending.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, *job.EscrowEndDate, f.sched.armed[job.ID])

	assert.Len(t, f.notificationsFor(f.buyer.ID), 1)
	providerNotes := f.notificationsFor(f.provider.ID)
	require.Len(t, providerNotes, 1)
	assert.Equal(t, models.NotificationJobAssigned, providerNotes[0].Type)
}

func TestEscrowService_StartEscrow_Duplicate(t *testing.T) {
	f := newFixture(t)
	_, hired := f.inEscrow(t, "100")

	_, err := f.escrow.StartEscrowForPayment(context.Background(), hired.Transaction.PaymentID)
	assert.True(t, apperror.IsDuplicateEscrow(err))
	assert.True(t, IsAlreadyApplied(err))
	assert.True(t, f.user(t, f.buyer.ID).TotalSpending.Equal(decimal.NewFromInt(110)), "траты не удваиваются")
}

func TestEscrowService_StartEscrow_UsesOperatorPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.settings.Update(context.Background(), 90)
	require.NoError(t, err)

	job, _ := f.inEscrow(t, "40")
	assert.Equal(t, f.now.Add(90*time.Minute), *job.EscrowEndDate)
}

func TestEscrowService_MarkComplete_BuyerWaitsForEscrow(t *testing.T) {
	f := newFixture(t)
	job, _ := f.inEscrow(t, "100")

	f.advance(4 * time.Minute)
	_, err := f.escrow.MarkComplete(context.Background(), f.buyerActor(), job.ID)
	require.True(t, apperror.HasCode(err, apperror.ErrCodeEscrowNotElapsed))
	secs, ok := apperror.SecondsRemaining(err)
	require.True(t, ok)
	assert.Equal(t, int64(6*60), secs)
	assert.True(t, f.user(t, f.provider.ID).AvailableBalance.IsZero())

	f.advance(6 * time.Minute)
	res, err := f.escrow.MarkComplete(context.Background(), f.buyerActor(), job.ID)
	require.NoError(t, err)
	assert.True(t, res.ProviderAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, res.ProviderBalance.Equal(decimal.NewFromInt(100)))

	stored, err := f.store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusCompleted, stored.Status)
	assert.Equal(t, valueobject.PaymentStatusReleased, stored.PaymentStatus)
	assert.Nil(t, stored.EscrowEndDate)

	_, err = f.escrow.MarkComplete(context.Background(), f.buyerActor(), job.ID)
	assert.True(t, apperror.IsInvalidState(err))
	assert.True(t, f.user(t, f.provider.ID).AvailableBalance.Equal(decimal.NewFromInt(100)))
}

func TestEscrowService_MarkComplete_Actors(t *testing.T) {
	f := newFixture(t)
	job, _ := f.inEscrow(t, "100")

	_, err := f.escrow.MarkComplete(context.Background(), entity.Actor{UserID: f.provider.ID, Role: models.RoleProvider}, job.ID)
	assert.True(t, apperror.IsForbidden(err))

	admin := entity.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
	_, err = f.escrow.MarkComplete(context.Background(), admin, job.ID)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeEscrowNotElapsed))

	res, err := f.escrow.MarkComplete(context.Background(), entity.SystemActor(), job.ID)
	require.NoError(t, err)
	assert.True(t, res.Eligible)
}

func TestEscrowService_Cancel(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "70")
	hired := f.hire(t, job)

	_, err := f.escrow.Cancel(context.Background(), entity.Actor{UserID: f.provider.ID}, job.ID)
	assert.True(t, apperror.IsForbidden(err))

	cancelled, err := f.escrow.Cancel(context.Background(), f.buyerActor(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusCancelled, cancelled.Status)

	tx, err := f.store.GetTransaction(context.Background(), hired.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusFailed, tx.Status)

	notes := f.notificationsFor(f.provider.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationJobCancelled, notes[0].Type)

	_, err = f.escrow.Cancel(context.Background(), f.buyerActor(), job.ID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestEscrowService_Cancel_RejectedInEscrow(t *testing.T) {
	f := newFixture(t)
	job, _ := f.inEscrow(t, "70")

	_, err := f.escrow.Cancel(context.Background(), f.buyerActor(), job.ID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestEscrowService_DenyPayment_RevertsJob(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "100")
	hired := f.hire(t, job)

	reverted, err := f.escrow.DenyPaymentForPayment(context.Background(), hired.Transaction.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, reverted)
	assert.Equal(t, valueobject.JobStatusActive, reverted.Status)
	assert.Equal(t, valueobject.PaymentStatusPending, reverted.PaymentStatus)
	assert.Nil(t, reverted.HiredProvider)

	tx, err := f.store.GetTransaction(context.Background(), hired.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusFailed, tx.Status)

	notes := f.notificationsFor(f.buyer.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationPaymentFailed, notes[0].Type)

	again, err := f.escrow.DenyPaymentForPayment(context.Background(), hired.Transaction.PaymentID)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Len(t, f.notificationsFor(f.buyer.ID), 1)
}

func TestEscrowService_DenyPayment_FromEscrowRevertsSpending(t *testing.T) {
	f := newFixture(t)
	job, hired := f.inEscrow(t, "100")

	reverted, err := f.escrow.DenyPayment(context.Background(), hired.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, reverted.ID)
	assert.Nil(t, reverted.EscrowEndDate)
	assert.True(t, f.user(t, f.buyer.ID).TotalSpending.IsZero())

	// таймер, взведённый раньше, ничего не выплатит
	res, err := f.releaser.Release(context.Background(), job.ID, TriggerTimer)
	require.NoError(t, err)
	assert.False(t, res.Eligible)
}

func TestEscrowService_CaptureApproved_StartsEscrow(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "100")
	hired := f.hire(t, job)
	paymentID := hired.Transaction.PaymentID
	f.expectCapture(paymentID, gateway.CaptureStatusCompleted)

	res, err := f.escrow.CaptureApproved(context.Background(), f.buyerActor(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusInEscrow, res.Status)
	require.NotNil(t, res.Job)
	assert.Equal(t, valueobject.JobStatusInProgress, res.Job.Status)

	tx, err := f.store.GetTransaction(context.Background(), hired.Transaction.ID)
	require.NoError(t, err)
	assert.NotNil(t, tx.ApprovedAt)
	assert.True(t, f.user(t, f.buyer.ID).TotalSpending.Equal(decimal.NewFromInt(110)))
	assert.Contains(t, f.sched.armed, job.ID)

	// повтор не идёт в шлюз и не списывает второй раз
	res, err = f.escrow.CaptureApproved(context.Background(), f.buyerActor(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusInEscrow, res.Status)
	assert.True(t, f.user(t, f.buyer.ID).TotalSpending.Equal(decimal.NewFromInt(110)))
	f.gw.AssertNumberOfCalls(t, "CaptureOrder", 1)
}

func TestEscrowService_CaptureApproved_PendingWaitsForWebhook(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "30")
	hired := f.hire(t, job)
	f.expectCapture(hired.Transaction.PaymentID, gateway.CaptureStatusPending)

	res, err := f.escrow.CaptureApproved(context.Background(), f.buyerActor(), hired.Transaction.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusPendingCapture, res.Status)
	assert.Nil(t, res.Job)

	tx, err := f.store.GetTransaction(context.Background(), hired.Transaction.ID)
	require.NoError(t, err)
	require.NotNil(t, tx.ApprovedAt)

	// подтверждённую оплату нельзя заменить новым наймом
	_, err = f.escrow.Hire(context.Background(), f.buyerActor(), job.ID, f.provider.ID, "")
	if assert.Error(t, err) {
		assert.True(t, apperror.IsInvalidState(err))
	}

	started, err := f.escrow.StartEscrowForPayment(context.Background(), hired.Transaction.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusInProgress, started.Status)
}

func TestEscrowService_CaptureApproved_AlreadyCaptured(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "50")
	hired := f.hire(t, job)
	f.gw.On("CaptureOrder", mock.Anything, hired.Transaction.PaymentID).Return(nil, gateway.ErrAlreadyCaptured).Once()

	res, err := f.escrow.CaptureApproved(context.Background(), entity.SystemActor(), hired.Transaction.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusInEscrow, res.Status)

	stored, err := f.store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusInProgress, stored.Status)
}

func TestEscrowService_CaptureApproved_Declined(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "50")
	hired := f.hire(t, job)
	f.expectCapture(hired.Transaction.PaymentID, gateway.CaptureStatusDeclined)

	res, err := f.escrow.CaptureApproved(context.Background(), f.buyerActor(), hired.Transaction.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TransactionStatusFailed, res.Status)
	require.NotNil(t, res.Job)
	assert.Equal(t, valueobject.JobStatusActive, res.Job.Status)
	assert.Nil(t, res.Job.HiredProvider)
	assert.True(t, f.user(t, f.buyer.ID).TotalSpending.IsZero())

	_, err = f.escrow.CaptureApproved(context.Background(), f.buyerActor(), hired.Transaction.PaymentID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestEscrowService_CaptureApproved_Guards(t *testing.T) {
	f := newFixture(t)
	job := f.postJob(t, "50")
	hired := f.hire(t, job)

	_, err := f.escrow.CaptureApproved(context.Background(), entity.Actor{UserID: f.provider.ID}, hired.Transaction.PaymentID)
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.escrow.CaptureApproved(context.Background(), f.buyerActor(), "ORDER-UNKNOWN")
	assert.True(t, errors.Is(err, apperror.ErrTransactionNotFound))

	f.gw.On("CaptureOrder", mock.Anything, hired.Transaction.PaymentID).Return(nil, gateway.ErrUnavailable).Once()
	_, err = f.escrow.CaptureApproved(context.Background(), f.buyerActor(), hired.Transaction.PaymentID)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeGateway))

	stored, err := f.store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusActive, stored.Status)
}

func TestEscrowService_GetJob(t *testing.T) {
	f := newFixture(t)
	job, _ := f.inEscrow(t, "100")
	f.advance(time.Minute)

	view, err := f.escrow.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, view.SecondsUntilRelease)
	assert.Equal(t, int64(9*60), *view.SecondsUntilRelease)

	active := f.postJob(t, "10")
	view, err = f.escrow.GetJob(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Nil(t, view.SecondsUntilRelease)
}
