package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner runs one cycle. Wait blocks until no cycle is running.
type Runner interface {
	Run(ctx context.Context, trigger Trigger) (*Report, error)
	Wait()
}

// Scheduler runs a cycle every interval. A manual trigger restarts the
// countdown.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	interval time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	entry cron.EntryID
	ctx   context.Context
	first sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(runner Runner, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		runner:   runner,
		interval: interval,
		log:      log,
		ctx:      context.Background(),
	}
}

// Start schedules the periodic cycle and runs the first one right away.
// Cycles stop being started once ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.reschedule()
	s.cron.Start()
	s.first.Add(1)
	go func() {
		defer s.first.Done()
		s.tick()
	}()
	s.log.Info("scheduler started", "interval", s.interval)
}

// Stop stops the timer and waits until no cycle is running, manual ones
// included, so the store can be closed afterwards.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.first.Wait()
	s.runner.Wait()
}

// TriggerNow runs a manual cycle and restarts the countdown.
func (s *Scheduler) TriggerNow(ctx context.Context) (*Report, error) {
	s.reschedule()
	return s.runner.Run(ctx, TriggerManual)
}

// NextRun returns when the next scheduled cycle starts, or the zero time
// before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	r, err := s.runner.Run(ctx, TriggerScheduled)
	switch {
	case err != nil && !errors.Is(err, ErrNoActiveSources):
		s.log.Error("scheduled cycle failed", "err", err)
	case r != nil && r.Shared:
		s.log.Debug("scheduled tick joined a running cycle", "cycle", r.ID)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
