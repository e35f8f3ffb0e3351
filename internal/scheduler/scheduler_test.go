package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/valueobject"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/testutil/memstore"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
)

type recordingReleaser struct {
	mu      sync.Mutex
	calls   map[uuid.UUID][]string
	err     error
	failing map[uuid.UUID]bool
}

func (r *recordingReleaser) Release(ctx context.Context, jobID uuid.UUID, trigger string) (*models.ReleaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[uuid.UUID][]string)
	}
	r.calls[jobID] = append(r.calls[jobID], trigger)
	if r.err != nil {
		return nil, r.err
	}
	if r.failing[jobID] {
		return nil, errors.New("payout rejected")
	}
	return &models.ReleaseResult{JobID: jobID, Eligible: true}, nil
}

func (r *recordingReleaser) callsFor(id uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls[id]...)
}

type fakeLease struct {
	ok       bool
	err      error
	released bool
}

func (l *fakeLease) TryAcquire(ctx context.Context) (bool, error) { return l.ok, l.err }

func (l *fakeLease) Release(ctx context.Context) error {
	l.released = true
	return nil
}

type emptySource struct{}

func (emptySource) ListDueForRelease(ctx context.Context, dueBefore, retryBefore time.Time, limit int) ([]models.Job, error) {
	return nil, nil
}

func (emptySource) MarkReleaseAttempt(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	return nil
}

// putInEscrow заказ в удержании со сроком end.
func putInEscrow(t *testing.T, store *memstore.Store, end time.Time) *models.Job {
	t.Helper()
	buyer := store.AddUser(models.RoleBuyer)
	provider := store.AddUser(models.RoleProvider)
	jobID, txID := uuid.New(), uuid.New()
	providerID := provider.ID

	job := &models.Job{
		ID:            jobID,
		PostedBy:      buyer.ID,
		HiredProvider: &providerID,
		Title:         "Укладка плитки",
		Description:   "Ванная 4 м2",
		Price:         decimal.NewFromInt(200),
		Status:        valueobject.JobStatusInProgress,
		PaymentStatus: valueobject.PaymentStatusInEscrow,
		TransactionID: &txID,
		EscrowEndDate: &end,
		CreatedAt:     end.Add(-time.Hour),
		UpdatedAt:     end.Add(-time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), job))
	store.PutTransaction(&models.Transaction{
		ID:         txID,
		JobID:      &jobID,
		CustomerID: buyer.ID,
		PaymentID:  "ORDER-" + jobID.String(),
		Amount:     decimal.NewFromInt(220),
		ServiceFee: decimal.NewFromInt(20),
		Status:     valueobject.TransactionStatusInEscrow,
		Type:       valueobject.TransactionTypeJobPayment,
		CreatedAt:  end.Add(-time.Hour),
		UpdatedAt:  end.Add(-time.Hour),
	})
	return job
}

func TestScheduler_Arm_PastDueReleasesImmediately(t *testing.T) {
	rel := &recordingReleaser{}
	s := New(rel, emptySource{}, nil, Config{Horizon: time.Minute})
	jobID := uuid.New()

	s.Arm(context.Background(), jobID, time.Now().Add(-time.Second))
	assert.Equal(t, []string{triggerTimer}, rel.callsFor(jobID))
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_Arm_NearDueFiresTimer(t *testing.T) {
	rel := &recordingReleaser{}
	s := New(rel, emptySource{}, nil, Config{Horizon: time.Minute})
	jobID := uuid.New()

	s.Arm(context.Background(), jobID, time.Now().Add(30*time.Millisecond))
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool { return len(rel.callsFor(jobID)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_Arm_FarDueLeftToSweep(t *testing.T) {
	rel := &recordingReleaser{}
	s := New(rel, emptySource{}, nil, Config{Horizon: time.Minute})
	jobID := uuid.New()

	// сроки в десятки дней не ограничены таймером
	s.Arm(context.Background(), jobID, time.Now().Add(40*24*time.Hour))
	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, rel.callsFor(jobID))
}

func TestScheduler_Sweep_ReleasesMissedJobs(t *testing.T) {
	store := memstore.NewStore()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	// срок прошёл, пока процесс был остановлен
	missed := putInEscrow(t, store, now.Add(-3*time.Hour))
	future := putInEscrow(t, store, now.Add(48*time.Hour))

	engine := service.NewReleaseEngine(store, service.NewNotificationService(store.NotificationRepo(), nil))
	s := New(engine, store, nil, Config{Horizon: time.Minute})
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Released: 1}, report)

	released, err := store.GetByID(context.Background(), missed.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusCompleted, released.Status)
	u, err := store.GetUser(context.Background(), *missed.HiredProvider)
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(decimal.NewFromInt(200)))

	pending, err := store.GetByID(context.Background(), future.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusInProgress, pending.Status)

	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestScheduler_Sweep_ArmsWithinHorizon(t *testing.T) {
	store := memstore.NewStore()
	now := time.Now().UTC()
	soon := putInEscrow(t, store, now.Add(30*time.Second))

	rel := &recordingReleaser{}
	s := New(rel, store, nil, Config{Horizon: time.Minute})
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Armed)
	assert.Equal(t, 1, s.Pending())
	assert.Empty(t, rel.callsFor(soon.ID))
	s.shutdown()
}

func TestScheduler_Sweep_CountsFailures(t *testing.T) {
	store := memstore.NewStore()
	now := time.Now().UTC()
	job := putInEscrow(t, store, now.Add(-time.Minute))

	rel := &recordingReleaser{err: errors.New("db unavailable")}
	s := New(rel, store, nil, Config{})
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{triggerSweep}, rel.callsFor(job.ID))
}

func TestScheduler_Sweep_FailingJobDoesNotBlockBatch(t *testing.T) {
	store := memstore.NewStore()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	stuck := putInEscrow(t, store, now.Add(-2*time.Hour))
	next := putInEscrow(t, store, now.Add(-time.Hour))

	rel := &recordingReleaser{failing: map[uuid.UUID]bool{stuck.ID: true}}
	s := New(rel, store, nil, Config{BatchSize: 1, RetryBackoff: 10 * time.Minute})
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Failed: 1}, report)

	// второй проход берёт следующий заказ, а не повторяет сбойный
	now = now.Add(time.Minute)
	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Released: 1}, report)
	assert.Equal(t, []string{triggerSweep}, rel.callsFor(stuck.ID))
	assert.Equal(t, []string{triggerSweep}, rel.callsFor(next.ID))

	// после паузы сбойный заказ пробуется снова
	now = now.Add(10 * time.Minute)
	rel.mu.Lock()
	rel.failing = nil
	rel.mu.Unlock()
	s.cfg.BatchSize = 2
	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Released: 2}, report)
	assert.Equal(t, []string{triggerSweep, triggerSweep}, rel.callsFor(stuck.ID))
}

func TestScheduler_RunOnce_RespectsLease(t *testing.T) {
	store := memstore.NewStore()
	job := putInEscrow(t, store, time.Now().UTC().Add(-time.Minute))
	rel := &recordingReleaser{}

	follower := New(rel, store, &fakeLease{ok: false}, Config{})
	follower.RunOnce(context.Background())
	assert.Empty(t, rel.callsFor(job.ID))

	broken := New(rel, store, &fakeLease{err: errors.New("redis down")}, Config{})
	broken.RunOnce(context.Background())
	assert.Empty(t, rel.callsFor(job.ID))

	lease := &fakeLease{ok: true}
	leader := New(rel, store, lease, Config{})
	leader.RunOnce(context.Background())
	assert.Equal(t, []string{triggerSweep}, rel.callsFor(job.ID))

	leader.shutdown()
	assert.True(t, lease.released)
}

func TestScheduler_StartRunsRecoverySweep(t *testing.T) {
	store := memstore.NewStore()
	job := putInEscrow(t, store, time.Now().UTC().Add(-time.Hour))
	rel := &recordingReleaser{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	New(rel, store, nil, Config{Interval: time.Hour}).Start(ctx)

	assert.Eventually(t, func() bool { return len(rel.callsFor(job.ID)) == 1 }, 2*time.Second, 5*time.Millisecond)
}
