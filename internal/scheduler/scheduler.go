// Package scheduler автоматическое завершение сделок по истечении периода удержания.
//
// Очередью служит сама таблица заказов: периодический проход находит заказы в удержании
// с наступившим сроком и выплачивает по ним. Таймеры в памяти процесса только делают
// выплату пунктуальной для ближайших сроков и после рестарта не нужны.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/servicedesk-backend/internal/goroutine"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/metrics"
	"github.com/ignatzorin/servicedesk-backend/internal/models"
)

// Источники запуска выплаты, совпадают с метками метрик.
const (
	triggerTimer = "timer"
	triggerSweep = "sweep"
)

const releaseTimeout = 30 * time.Second

// Releaser выплата по заказу, безопасная при повторном вызове.
type Releaser interface {
	Release(ctx context.Context, jobID uuid.UUID, trigger string) (*models.ReleaseResult, error)
}

// DueSource заказы в удержании со сроком не позже dueBefore, ранние первыми.
// Заказ с неудачной попыткой позже retryBefore не возвращается.
type DueSource interface {
	ListDueForRelease(ctx context.Context, dueBefore, retryBefore time.Time, limit int) ([]models.Job, error)
	MarkReleaseAttempt(ctx context.Context, jobID uuid.UUID, at time.Time) error
}

// Lease аренда права на проход, когда экземпляров несколько.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Config параметры планировщика.
type Config struct {
	// Interval период прохода по просроченным заказам.
	Interval time.Duration
	// Horizon сроки ближе этого взводятся таймером в памяти.
	Horizon time.Duration
	// BatchSize не больше стольких заказов за проход.
	BatchSize int
	// RetryBackoff пауза перед повтором неудачной выплаты.
	RetryBackoff time.Duration
}

// SweepReport итог одного прохода.
type SweepReport struct {
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Armed    int `json:"armed"`
}

// Scheduler планировщик автозавершения.
type Scheduler struct {
	releaser Releaser
	source   DueSource
	lease    Lease
	cfg      Config
	now      func() time.Time
	log      *logrus.Entry

	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	baseCtx context.Context
}

// New создаёт планировщик. lease может быть nil, тогда проход выполняется всегда.
func New(releaser Releaser, source DueSource, lease Lease, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Horizon < 0 {
		cfg.Horizon = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Minute
	}
	return &Scheduler{
		releaser: releaser,
		source:   source,
		lease:    lease,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Component("scheduler"),
		timers:   make(map[uuid.UUID]*time.Timer),
		baseCtx:  context.Background(),
	}
}

// Arm планирует выплату на due. Просроченный заказ выплачивается сразу,
// дальний оставляется периодическому проходу.
func (s *Scheduler) Arm(ctx context.Context, jobID uuid.UUID, due time.Time) {
	delay := due.Sub(s.now())
	if delay <= 0 {
		s.release(ctx, jobID, triggerTimer)
		return
	}
	if delay > s.cfg.Horizon {
		s.log.WithFields(logrus.Fields{"job_id": jobID, "due": due}).Debug("срок дальше горизонта, выплату выполнит проход")
		return
	}
	s.armTimer(jobID, delay)
}

func (s *Scheduler) armTimer(jobID uuid.UUID, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[jobID]; ok {
		t.Stop()
	}
	s.timers[jobID] = time.AfterFunc(delay, func() {
		defer goroutine.Recover("scheduler timer")
		s.forget(jobID)

		s.mu.Lock()
		base := s.baseCtx
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(base, releaseTimeout)
		defer cancel()
		s.release(ctx, jobID, triggerTimer)
	})
	metrics.SetArmedTimers(len(s.timers))
}

func (s *Scheduler) forget(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}
	metrics.SetArmedTimers(len(s.timers))
}

// Pending число взведённых таймеров.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// release ошибки только логируются: заказ останется в удержании и попадёт в следующий проход.
func (s *Scheduler) release(ctx context.Context, jobID uuid.UUID, trigger string) (*models.ReleaseResult, error) {
	res, err := s.releaser.Release(ctx, jobID, trigger)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Warn("автозавершение не удалось, повтор при следующем проходе")
	}
	return res, err
}

// Sweep выплачивает по просроченным заказам и взводит таймеры для ближайших.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	jobs, err := s.source.ListDueForRelease(ctx, now.Add(s.cfg.Horizon), now.Add(-s.cfg.RetryBackoff), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if job.EscrowEndDate != nil && job.EscrowEndDate.After(now) {
			s.armTimer(job.ID, job.EscrowEndDate.Sub(now))
			report.Armed++
			continue
		}

		s.forget(job.ID)
		res, err := s.release(ctx, job.ID, triggerSweep)
		switch {
		case err != nil:
			report.Failed++
			if merr := s.source.MarkReleaseAttempt(ctx, job.ID, now); merr != nil {
				s.log.WithError(merr).WithField("job_id", job.ID).Warn("не удалось отметить неудачную выплату")
			}
		case res.Eligible:
			report.Released++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// Start запускает восстановительный проход и затем периодические проходы до отмены ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	goroutine.SafeGoWithContext(ctx, "scheduler sweep loop", func(ctx context.Context) {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		defer s.shutdown()

		s.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	})
}

// RunOnce один проход под арендой.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.lease != nil {
		ok, err := s.lease.TryAcquire(ctx)
		if err != nil {
			metrics.RecordSweep("lease_error")
			s.log.WithError(err).Warn("не удалось получить аренду прохода")
			return
		}
		if !ok {
			metrics.RecordSweep("not_leader")
			return
		}
	}

	report, err := s.Sweep(ctx)
	if err != nil {
		metrics.RecordSweep("error")
		s.log.WithError(err).Error("проход автозавершения не выполнен")
		return
	}
	metrics.RecordSweep("ok")
	if report.Released+report.Failed+report.Armed > 0 {
		s.log.WithFields(logrus.Fields{
			"released": report.Released,
			"skipped":  report.Skipped,
			"failed":   report.Failed,
			"armed":    report.Armed,
		}).Info("проход автозавершения")
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	metrics.SetArmedTimers(0)
	s.mu.Unlock()

	if s.lease != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lease.Release(ctx); err != nil {
			s.log.WithError(err).Warn("не удалось отдать аренду прохода")
		}
	}
}
