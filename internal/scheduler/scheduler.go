// Package scheduler runs the gateway's periodic jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/x402gate/x402gate/internal/clock"
	"github.com/x402gate/x402gate/internal/config"
	"github.com/x402gate/x402gate/internal/distlock"
	escrowdomain "github.com/x402gate/x402gate/internal/escrow/domain"
	webhookdomain "github.com/x402gate/x402gate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Job is one periodic unit of work.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Scheduler ticks each job on a fixed interval, holding a distributed lease
// per run so only one instance sweeps at a time.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	locker   *distlock.Locker
	log      *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(jobs []Job, interval time.Duration, locker *distlock.Locker, log *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		interval: interval,
		locker:   locker,
		log:      log.Named("scheduler"),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, job := range s.jobs {
		release, ok := s.locker.Acquire(ctx, "x402gate:job:"+job.Name(), s.interval)
		if !ok {
			continue
		}
		if err := job.RunOnce(ctx); err != nil {
			s.log.Error("job run failed", zap.String("job", job.Name()), zap.Error(err))
		}
		release()
	}
}

type Param struct {
	fx.In

	Lc       fx.Lifecycle
	Cfg      config.Config
	Clock    clock.Clock
	Locker   *distlock.Locker
	Escrow   escrowdomain.Service
	Webhooks webhookdomain.Service
	Log      *zap.Logger
}

func NewScheduler(p Param) *Scheduler {
	jobs := []Job{
		NewEscrowReleaseJob(p.Escrow, p.Webhooks, p.Clock, p.Cfg.Sweep.BatchSize, p.Log),
	}
	s := New(jobs, p.Cfg.Sweep.Interval, p.Locker, p.Log)
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
	return s
}

var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(func(*Scheduler) {}),
)
