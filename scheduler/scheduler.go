// Package scheduler runs one periodic walk per configured resource.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emilyzhang/scrapr/config"
	"github.com/emilyzhang/scrapr/crawler"
	"github.com/emilyzhang/scrapr/logger"
)

// ErrStopped is returned by Add and Start once the scheduler was stopped.
var ErrStopped = errors.New("scheduler stopped")

// Runner walks a resource. It must return once ctx is cancelled.
type Runner interface {
	Walk(ctx context.Context, res config.Resource) crawler.Result
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart controls whether every resource is walked right after
// Start instead of one period later. Defaults to true.
func WithRunOnStart(run bool) Option {
	return func(s *Scheduler) { s.runOnStart = run }
}

// Scheduler owns the timers of every resource. A resource never has more
// than one walk in flight; a tick that fires while its previous walk is
// still running is dropped.
type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	log        logger.Interface
	runOnStart bool

	mu      sync.Mutex
	entries []*entry
	names   map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	walks   sync.WaitGroup
}

// New creates a scheduler that hands resources to runner.
func New(runner Runner, log logger.Interface, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		runner:     runner,
		log:        log,
		runOnStart: true,
		names:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add schedules res every res.Period.
func (s *Scheduler) Add(res config.Resource) error {
	if res.Period <= 0 {
		return fmt.Errorf("resource %s: period must be positive, got %s", res.Name, res.Period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, dup := s.names[res.Name]; dup {
		return fmt.Errorf("resource %s is already scheduled", res.Name)
	}

	e := &entry{res: res, s: s}
	e.id = s.cron.Schedule(every(res.Period), e)
	s.entries = append(s.entries, e)
	s.names[res.Name] = struct{}{}
	s.log.Info("Scheduled resource", "resource", res.Name, "url", res.URL, "period", res.Period)

	if s.started && s.runOnStart {
		go s.trigger(e)
	}
	return nil
}

// Start starts the timers. Walks run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.log.Info("Scheduler started", "resources", len(s.entries))

	if s.runOnStart {
		for _, e := range s.entries {
			go s.trigger(e)
		}
	}
	return nil
}

// trigger runs e outside its regular schedule, through the same job chain.
func (s *Scheduler) trigger(e *entry) {
	s.cron.Entry(e.id).WrappedJob.Run()
}

// Stop stops the timers and cancels running walks. The returned context is
// done once every walk has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.walks.Wait()
		s.log.Info("Scheduler stopped")
		done()
	}()
	return ctx
}

// Run starts the scheduler and blocks until ctx is done and every walk has
// returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

// walkContext registers a walk. It reports false once the scheduler is
// stopping so no walk starts after Stop.
func (s *Scheduler) walkContext() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ctx == nil {
		return nil, false
	}
	s.walks.Add(1)
	return s.ctx, true
}

// every is a fixed-period schedule measured from the previous activation.
// Unlike cron.Every it does not round to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// entry is the cron job of one resource.
type entry struct {
	s   *Scheduler
	res config.Resource
	id  cron.EntryID

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu         sync.Mutex
	lastStart  time.Time
	lastFinish time.Time
	lastEnd    string
	lastErr    string
}

// Run implements cron.Job.
func (e *entry) Run() {
	if !e.running.CompareAndSwap(false, true) {
		n := e.skipped.Add(1)
		e.s.log.Warn("Previous walk still running, skipping tick",
			"resource", e.res.Name, "skipped", n)
		return
	}
	defer e.running.Store(false)

	ctx, ok := e.s.walkContext()
	if !ok {
		return
	}
	defer e.s.walks.Done()

	e.runs.Add(1)
	e.mu.Lock()
	e.lastStart = time.Now()
	e.mu.Unlock()

	result := e.s.runner.Walk(ctx, e.res)

	e.mu.Lock()
	e.lastFinish = time.Now()
	e.lastEnd = result.End.String()
	e.lastErr = ""
	if result.IsAbort() {
		e.lastErr = result.Err.Error()
	}
	e.mu.Unlock()
}
