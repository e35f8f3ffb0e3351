package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/servicedesk-backend/internal/domain/entity"
	"github.com/ignatzorin/servicedesk-backend/internal/gateway"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
	"github.com/ignatzorin/servicedesk-backend/internal/testutil/memstore"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}

func (m *mockGateway) CaptureOrder(ctx context.Context, orderID string) (*gateway.Capture, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Capture), args.Error(1)
}

func (m *mockGateway) Payout(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PayoutResult), args.Error(1)
}

func (m *mockGateway) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	args := m.Called(ctx, headers, body)
	return args.Bool(0), args.Error(1)
}

type fakeScheduler struct {
	mu    sync.Mutex
	armed map[uuid.UUID]time.Time
}

func (s *fakeScheduler) Arm(ctx context.Context, jobID uuid.UUID, due time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil {
		s.armed = make(map[uuid.UUID]time.Time)
	}
	s.armed[jobID] = due
}

type fakePusher struct {
	mu     sync.Mutex
	events []uuid.UUID
}

func (p *fakePusher) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, userID)
}

const testEscrowPeriod = 10 * time.Minute

// fixture сервисы поверх хранилища в памяти с управляемыми часами.
type fixture struct {
	store    *memstore.Store
	gw       *mockGateway
	sched    *fakeScheduler
	settings *SettingsService
	notifier *NotificationService
	releaser *ReleaseEngine
	escrow   *EscrowService
	buyer    *models.User
	provider *models.User
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.NewStore(),
		gw:    new(mockGateway),
		sched: &fakeScheduler{},
		now:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.buyer = f.store.AddUser(models.RoleBuyer)
	f.provider = f.store.AddUser(models.RoleProvider)
	f.settings = NewSettingsService(f.store, testEscrowPeriod)
	f.notifier = NewNotificationService(f.store.NotificationRepo(), nil)
	f.releaser = NewReleaseEngine(f.store, f.notifier)
	f.releaser.now = clock
	f.escrow = NewEscrowService(EscrowDeps{
		Jobs:         f.store,
		Transactions: f.store.Transactions(),
		Ledger:       f.store,
		Gateway:      f.gw,
		Periods:      f.settings,
		Releaser:     f.releaser,
		Scheduler:    f.sched,
		Notifier:     f.notifier,
		FeeRate:      decimal.RequireFromString("0.10"),
	})
	f.escrow.now = clock
	return f
}

func (f *fixture) buyerActor() entity.Actor {
	return entity.Actor{UserID: f.buyer.ID, Role: models.RoleBuyer}
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) postJob(t *testing.T, price string) *models.Job {
	t.Helper()
	job, err := f.escrow.CreateJob(context.Background(), f.buyerActor(), CreateJobParams{
		Title:       "Замена смесителя",
		Description: "Кухня, смеситель уже куплен",
		Category:    "plumbing",
		Location:    "Москва",
		Price:       decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return job
}

func (f *fixture) hire(t *testing.T, job *models.Job) *HireResult {
	t.Helper()
	f.gw.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r gateway.OrderRequest) bool {
		return r.ReferenceID == job.ID.String()
	})).Return(&gateway.Order{ID: "ORDER-" + job.ID.String(), ApproveURL: "https://paypal.test/approve"}, nil).Once()

	res, err := f.escrow.Hire(context.Background(), f.buyerActor(), job.ID, f.provider.ID, "")
	require.NoError(t, err)
	return res
}

// inEscrow заказ, оплата по которому списана и удерживается.
func (f *fixture) inEscrow(t *testing.T, price string) (*models.Job, *HireResult) {
	t.Helper()
	job := f.postJob(t, price)
	hired := f.hire(t, job)
	started, err := f.escrow.StartEscrowForPayment(context.Background(), hired.Transaction.PaymentID)
	require.NoError(t, err)
	return started, hired
}

// expectCapture шлюз один раз ответит на списание заказа статусом status.
func (f *fixture) expectCapture(paymentID, status string) {
	f.gw.On("CaptureOrder", mock.Anything, paymentID).
		Return(&gateway.Capture{OrderID: paymentID, Status: "COMPLETED", CaptureID: "CAP-" + paymentID, CaptureStatus: status}, nil).Once()
}

func (f *fixture) user(t *testing.T, id uuid.UUID) *models.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) notificationsFor(id uuid.UUID) []models.Notification {
	var out []models.Notification
	for _, n := range f.store.Notifications() {
		if n.UserID == id {
			out = append(out, n)
		}
	}
	return out
}
