package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobReplayBillingEvents = "replay_billing_events"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Ingress    billingeventdomain.Ingress
	Config     Config                `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// Scheduler runs background jobs on a fixed interval. Today that is the
// inbox replay, which picks up provider events whose first apply failed.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	ingress billingeventdomain.Ingress
	metrics *jobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Ingress == nil {
		return nil, ErrInvalidConfig
	}
	reg := p.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		ingress: p.Ingress,
		metrics: newJobMetrics(reg),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	s.metrics.runs.WithLabelValues(name).Inc()

	err := fn(ctx)
	s.metrics.duration.WithLabelValues(name).Observe(s.clock.Now().Sub(start).Seconds())
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick continues the work
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.timeouts.WithLabelValues(name).Inc()
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.errors.WithLabelValues(name).Inc()
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobReplayBillingEvents, s.cfg.JobTimeout, s.ReplayBillingEventsJob)
}

// ReplayBillingEventsJob reprocesses inbox rows older than the replay age.
func (s *Scheduler) ReplayBillingEventsJob(ctx context.Context) error {
	replayed, err := s.ingress.ReplayPending(ctx, s.cfg.ReplayAge, s.cfg.BatchSize)
	if replayed > 0 {
		s.log.Info("billing events replayed", zap.Int("count", replayed))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type jobMetrics struct {
	runs     *prometheus.CounterVec
	errors   *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newJobMetrics(reg prometheus.Registerer) *jobMetrics {
	m := &jobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditledger_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditledger_scheduler_job_errors_total",
			Help: "Scheduler job executions that returned an error.",
		}, []string{"job"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditledger_scheduler_job_timeouts_total",
			Help: "Scheduler job executions that hit their deadline.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "creditledger_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	m.runs = register(reg, m.runs)
	m.errors = register(reg, m.errors)
	m.timeouts = register(reg, m.timeouts)
	m.duration = register(reg, m.duration)
	return m
}

// register returns the already registered collector when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
