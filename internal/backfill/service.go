package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"candlefeed/internal/fanout"
	"candlefeed/internal/logger"
	"candlefeed/internal/market"
	"candlefeed/internal/period"
	"candlefeed/internal/store/series"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Journal remembers sub-windows that could not be fetched so later passes
// can retry them.
type Journal interface {
	RecordFailure(ctx context.Context, key market.SeriesKey, w market.FetchWindow, reason string) error
	Resolve(ctx context.Context, key market.SeriesKey, w market.FetchWindow) error
}

// ManifestRecorder keeps the failed windows of the last job per series.
type ManifestRecorder interface {
	RecordFailedWindows(ctx context.Context, key market.SeriesKey, windows []market.FetchWindow) error
}

// Publisher receives merged batches.
type Publisher interface {
	Publish(fanout.Batch)
}

type ServiceConfig struct {
	Fetcher       *Fetcher
	Merger        *series.Merger
	Journal       Journal
	Publisher     Publisher
	Manifest      ManifestRecorder
	MaxConcurrent int64
}

// Service runs backfill jobs: chunked fetch, per-chunk merge, journaling of
// failed windows.
type Service struct {
	fetcher   *Fetcher
	merger    *series.Merger
	journal   Journal
	publisher Publisher
	manifest  ManifestRecorder
	sem       *semaphore.Weighted
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("backfill: fetcher is required")
	}
	if cfg.Merger == nil {
		return nil, fmt.Errorf("backfill: merger is required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Service{
		fetcher:   cfg.Fetcher,
		merger:    cfg.Merger,
		journal:   cfg.Journal,
		publisher: cfg.Publisher,
		manifest:  cfg.Manifest,
		sem:       semaphore.NewWeighted(maxConcurrent),
		now:       time.Now,
		jobs:      make(map[string]*Job),
		baseCtx:   context.Background(),
	}, nil
}

// SetContext sets the context jobs run under; cancelling it stops them.
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) Fetcher() *Fetcher { return s.fetcher }

// Submit validates req and starts the job in the background. Configuration
// errors are returned here and no job is created.
func (s *Service) Submit(ctx context.Context, req JobRequest) (Job, error) {
	window, err := s.resolveWindow(req)
	if err != nil {
		return Job{}, err
	}
	plan, err := s.fetcher.Plan(Request{Symbol: req.Symbol, Provider: req.Provider, Interval: req.Interval, Window: window})
	if err != nil {
		return Job{}, err
	}
	now := s.now()
	job := &Job{
		ID:          uuid.NewString(),
		Status:      JobStatusPending,
		Request:     req,
		Key:         plan.Key,
		Window:      plan.Window,
		ChunksTotal: len(plan.Windows),
		StartedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	snapshot := job.copy()
	s.mu.Unlock()
	logger.Infof("backfill job %s submitted: %s %s chunks=%d", job.ID, plan.Key, plan.Window, len(plan.Windows))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(job.ID, plan)
	}()
	return snapshot, nil
}

// Run executes req synchronously under ctx.
func (s *Service) Run(ctx context.Context, req JobRequest) (Job, error) {
	window, err := s.resolveWindow(req)
	if err != nil {
		return Job{}, err
	}
	plan, err := s.fetcher.Plan(Request{Symbol: req.Symbol, Provider: req.Provider, Interval: req.Interval, Window: window})
	if err != nil {
		return Job{}, err
	}
	job := &Job{ID: uuid.NewString(), Request: req, Key: plan.Key, Window: plan.Window, ChunksTotal: len(plan.Windows), StartedAt: s.now()}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	if err := s.execute(ctx, job.ID, plan); err != nil {
		return s.snapshot(job.ID), err
	}
	return s.snapshot(job.ID), nil
}

func (s *Service) resolveWindow(req JobRequest) (market.FetchWindow, error) {
	if req.Period != "" || (req.Start.IsZero() && req.End.IsZero()) {
		p := req.Period
		if p == "" {
			p = period.Default
		}
		r, err := period.Parse(p, s.now())
		if err != nil {
			return market.FetchWindow{}, err
		}
		return r.Window(), nil
	}
	end := req.End
	if end.IsZero() {
		end = s.now()
	}
	w := market.FetchWindow{Start: req.Start.UTC(), End: end.UTC()}
	if w.Empty() {
		return market.FetchWindow{}, market.NewConfigurationError("window", w.String(), "start must be before end")
	}
	return w, nil
}

func (s *Service) runJob(id string, plan *Plan) {
	ctx := s.baseCtx
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finish(id, JobStatusFailed, "service stopped")
		return
	}
	defer s.sem.Release(1)
	if err := s.execute(ctx, id, plan); err != nil {
		logger.Warnf("backfill job %s: %v", id, err)
	}
}

func (s *Service) execute(ctx context.Context, id string, plan *Plan) error {
	s.updateJob(id, func(j *Job) {
		j.Status = JobStatusRunning
		j.Message = ""
	})
	handle := s.merger.Handle(plan.Key)
	seed, err := SeedBefore(ctx, handle, plan.Window.Start)
	if err != nil {
		s.finish(id, JobStatusFailed, err.Error())
		return err
	}

	for ch := range s.fetcher.Walk(ctx, plan, seed) {
		if ch.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.finish(id, JobStatusFailed, ctxErr.Error())
				return ctxErr
			}
			fw := FailedWindow{Symbol: plan.Symbol, Window: ch.Window, Reason: ch.Err.Error(), Err: ch.Err}
			s.journalFailure(ctx, plan.Key, fw)
			s.updateJob(id, func(j *Job) {
				j.ChunksDone++
				j.Failed = append(j.Failed, fw)
			})
			continue
		}
		res, err := handle.Merge(ctx, ch.Candles)
		if err != nil {
			s.finish(id, JobStatusFailed, err.Error())
			return err
		}
		if s.journal != nil {
			if err := s.journal.Resolve(ctx, plan.Key, ch.Window); err != nil {
				logger.Warnf("backfill %s: resolve journal entry %s: %v", plan.Key, ch.Window, err)
			}
		}
		if s.publisher != nil && !res.Empty() {
			s.publisher.Publish(fanout.Batch{Key: plan.Key, Candles: res.Changed, Mode: fanout.ModeBackfill})
		}
		s.updateJob(id, func(j *Job) {
			j.ChunksDone++
			j.Rows += res.Added + res.Replaced
			j.Coerced += ch.Coerced
		})
	}

	job := s.snapshot(id)
	switch {
	case len(job.Failed) == 0:
		s.finish(id, JobStatusDone, "")
	case len(job.Failed) == job.ChunksTotal:
		s.finish(id, JobStatusFailed, "every sub-window failed")
	default:
		s.finish(id, JobStatusPartial, fmt.Sprintf("%d of %d sub-windows failed", len(job.Failed), job.ChunksTotal))
	}
	job = s.snapshot(id)
	if s.manifest != nil {
		windows := make([]market.FetchWindow, len(job.Failed))
		for i, fw := range job.Failed {
			windows[i] = fw.Window
		}
		if err := s.manifest.RecordFailedWindows(ctx, plan.Key, windows); err != nil {
			logger.Warnf("backfill %s: manifest update failed: %v", plan.Key, err)
		}
	}
	logger.Infof("backfill job %s %s: %s rows=%d failed=%d", id, job.Status, plan.Key, job.Rows, len(job.Failed))
	return nil
}

// SeedBefore finds the close of the last persisted bar before start.
func SeedBefore(ctx context.Context, h *series.Handle, start time.Time) (*float64, error) {
	stored, err := h.Load(ctx)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(stored), func(i int) bool { return !stored[i].Timestamp.Before(start) })
	if i == 0 {
		return nil, nil
	}
	c := stored[i-1].Close
	return &c, nil
}

func (s *Service) journalFailure(ctx context.Context, key market.SeriesKey, fw FailedWindow) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordFailure(ctx, key, fw.Window, fw.Reason); err != nil {
		logger.Warnf("backfill %s: journal failed window %s: %v", key, fw.Window, err)
	}
}

func (s *Service) finish(id, status, message string) {
	s.updateJob(id, func(j *Job) {
		j.Status = status
		j.Message = message
	})
}

func (s *Service) updateJob(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
		job.UpdatedAt = s.now()
	}
}

func (s *Service) snapshot(id string) Job {
	job, _ := s.Job(id)
	return job
}

// Job returns a copy of the job.
func (s *Service) Job(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// Jobs returns copies of all jobs, newest first.
func (s *Service) Jobs() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Wait blocks until background jobs finish or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrJobNotFound is returned by lookups for unknown ids.
var ErrJobNotFound = errors.New("backfill job not found")
