// Package pipeline converts discovered images to AVIF on a bounded worker
// pool and reports one Result per job.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/AnyUserName/avifbatch/internal/dedup"
	"github.com/AnyUserName/avifbatch/internal/encoder"
	"github.com/AnyUserName/avifbatch/internal/scorer"
)

// DefaultGracePeriod is how long in-flight jobs may keep running after the
// run is cancelled.
const DefaultGracePeriod = 10 * time.Second

// Config holds all parameters for a scheduler.
type Config struct {
	Settings Settings
	Encoder  encoder.Encoder
	Scorer   scorer.Scorer

	// Workers is the number of concurrent jobs; default one per CPU, never
	// more than Threads.
	Workers int
	// Threads is the total encoder thread budget shared by all workers.
	Threads int
	// Queue bounds encoded outputs waiting for the writers.
	Queue   int
	Writers int
	// Expected is the number of jobs a batch will submit, 0 if unknown.
	// Jobs near the end of a batch get larger thread allotments.
	Expected int
	// GracePeriod bounds how long Run waits for in-flight jobs after
	// cancellation. Encodes still running then are abandoned; a backend that
	// cannot be interrupted finishes in the background with its output
	// discarded.
	GracePeriod time.Duration

	Index *dedup.Index
	Cache *dedup.Cache

	Logger *slog.Logger
	// OnState, if set, observes every state transition. It is called from
	// worker goroutines and must not block.
	OnState func(Job, State)
}

// Scheduler runs jobs through read, encode, score, hash and write.
type Scheduler struct {
	cfg    Config
	budget *ThreadBudget
	logger *slog.Logger
}

// New creates a configured scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Encoder == nil {
		return nil, errors.New("pipeline: no encoder")
	}
	if cfg.Scorer == nil {
		cfg.Scorer = scorer.Disabled{}
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Workers > cfg.Threads {
		cfg.Workers = cfg.Threads
	}
	if cfg.Queue <= 0 {
		cfg.Queue = cfg.Workers
	}
	if cfg.Writers <= 0 {
		cfg.Writers = max(1, cfg.Workers/2)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Index == nil {
		cfg.Index = dedup.NewIndex()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cfg:    cfg,
		budget: NewThreadBudget(cfg.Threads, cfg.Workers),
		logger: cfg.Logger.With("component", "pipeline"),
	}, nil
}

// Workers returns the effective pool size.
func (s *Scheduler) Workers() int { return s.cfg.Workers }

// Budget returns the shared thread budget.
func (s *Scheduler) Budget() *ThreadBudget { return s.budget }

type dispatched struct {
	job       Job
	remaining int
}

// Run consumes jobs until the channel closes and emits exactly one Result
// per job, in completion order. The returned channel closes once every job
// has reached a terminal state.
//
// Cancelling ctx stops dispatch at once: jobs not yet started, including
// those still arriving on jobs, come back as cancelled. Jobs already running
// get the grace period to finish before their own context is cancelled.
func (s *Scheduler) Run(ctx context.Context, jobs <-chan Job) <-chan Result {
	results := make(chan Result, s.cfg.Workers*2)
	dispatch := make(chan dispatched)
	writes := make(chan writeReq, s.cfg.Queue)
	finished := make(chan struct{})

	workCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-ctx.Done():
			t := time.NewTimer(s.cfg.GracePeriod)
			defer t.Stop()
			select {
			case <-t.C:
				s.logger.Warn("grace period over, abandoning in-flight jobs", "grace", s.cfg.GracePeriod)
				abandon()
			case <-finished:
			}
		case <-finished:
		}
	}()

	emit := func(r Result) {
		s.state(r.Job, terminalState(r.Status))
		results <- r
	}

	// Dispatcher.
	go func() {
		defer close(dispatch)
		sent := 0
		for job := range jobs {
			s.state(job, StateQueued)
			if ctx.Err() != nil {
				emit(cancelled(job, ctx.Err()))
				continue
			}
			remaining := 0
			if s.cfg.Expected > 0 {
				remaining = max(1, s.cfg.Expected-sent)
			}
			select {
			case dispatch <- dispatched{job: job, remaining: remaining}:
				sent++
			case <-ctx.Done():
				emit(cancelled(job, ctx.Err()))
			}
		}
	}()

	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for d := range dispatch {
				res, req := s.process(ctx, workCtx, d)
				if req == nil {
					emit(res)
					continue
				}
				writes <- *req
			}
		}()
	}

	var writers sync.WaitGroup
	for i := 0; i < s.cfg.Writers; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for req := range writes {
				emit(s.write(workCtx, req))
			}
		}()
	}

	go func() {
		workers.Wait()
		close(writes)
		writers.Wait()
		close(finished)
		abandon()
		close(results)
	}()

	return results
}

func (s *Scheduler) state(job Job, st State) {
	s.logger.Debug("job state", "job", job.ID, "path", job.SourcePath, "state", st.String())
	if s.cfg.OnState != nil {
		s.cfg.OnState(job, st)
	}
}

func cancelled(job Job, err error) Result {
	if err == nil {
		err = context.Canceled
	}
	return Result{
		Job:       job,
		Status:    StatusCancelled,
		InputSize: job.Size,
		Kind:      KindCancelled,
		Err:       newJobError("dispatch", job.SourcePath, err),
	}
}
