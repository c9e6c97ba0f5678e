// Package scheduler runs independently cadenced ingestion jobs until told to
// stop. Each job gets its own goroutine; one job failing or overrunning never
// affects another.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// SessionGate answers whether a wall-clock instant is inside trading hours.
// Implemented by ohlcv.Clock.
type SessionGate interface {
	IsWithinSession(ts time.Time) bool
	Now() time.Time
}

// Job is one scheduled unit of work. Run is called with a context that is
// cancelled on Stop; long bodies should honor it between network calls.
type Job struct {
	Name            string
	Cadence         time.Duration
	MarketHoursOnly bool
	Run             func(ctx context.Context) error
}

// Stats is a point-in-time snapshot of one job's counters.
type Stats struct {
	Runs     int
	Failures int
	Skips    int
	LastErr  string
	LastRun  time.Time
}

// Scheduler drives a fixed set of jobs, each on its own loop. Slow job bodies
// shrink the following sleep down to MinSleep but never below it, so a job
// that overruns its cadence cannot busy-loop.
type Scheduler struct {
	gate     SessionGate
	minSleep time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool

	mu    sync.Mutex
	jobs  []Job
	stats map[string]*Stats
}

// Option customises Scheduler construction.
type Option func(*Scheduler)

// WithMinSleep overrides the floor applied to inter-run sleeps.
func WithMinSleep(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minSleep = d
		}
	}
}

const defaultMinSleep = time.Second

// New builds a scheduler gated by the given session clock.
func New(gate SessionGate, opts ...Option) *Scheduler {
	s := &Scheduler{
		gate:     gate,
		minSleep: defaultMinSleep,
		stats:    make(map[string]*Stats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job needs a name")
	}
	if job.Cadence <= 0 {
		return fmt.Errorf("scheduler: job %s needs a positive cadence", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s needs a run function", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: cannot register %s after start", job.Name)
	}
	if _, dup := s.stats[job.Name]; dup {
		return fmt.Errorf("scheduler: duplicate job name %s", job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.stats[job.Name] = &Stats{}
	return nil
}

// Start launches one goroutine per registered job. The parent context bounds
// all job bodies in addition to Stop.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(parent)

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(job)
	}
	logx.Infof("scheduler: started %d jobs", len(s.jobs))
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	// Drain the immediate first fire so every iteration arms its own sleep.
	<-timer.C

	for {
		start := time.Now()
		s.runOnce(job)

		sleepFor := job.Cadence - time.Since(start)
		if sleepFor < s.minSleep {
			sleepFor = s.minSleep
		}
		timer.Reset(sleepFor)

		select {
		case <-s.ctx.Done():
			logx.Infof("scheduler: job %s stopping", job.Name)
			return
		case <-timer.C:
		}
	}
}

// runOnce executes one job tick, applying the market-hours gate and capturing
// the error so a failing body never terminates the loop.
func (s *Scheduler) runOnce(job Job) {
	if s.ctx.Err() != nil {
		return
	}
	if job.MarketHoursOnly && !s.gate.IsWithinSession(s.gate.Now()) {
		s.record(job.Name, func(st *Stats) { st.Skips++ })
		return
	}

	start := time.Now()
	err := s.safeRun(job)
	elapsed := time.Since(start)

	if err != nil {
		var attempt int
		s.record(job.Name, func(st *Stats) {
			st.Runs++
			st.Failures++
			st.LastErr = err.Error()
			st.LastRun = start
			attempt = st.Runs
		})
		logx.Errorf("scheduler: job %s attempt %d failed after %dms: %v",
			job.Name, attempt, elapsed.Milliseconds(), err)
		return
	}

	s.record(job.Name, func(st *Stats) {
		st.Runs++
		st.LastErr = ""
		st.LastRun = start
	})
	logx.Infof("scheduler: job %s ok, took %dms", job.Name, elapsed.Milliseconds())
}

// safeRun converts a panicking job body into an ordinary failure so one bad
// job cannot take down the process or its sibling loops.
func (s *Scheduler) safeRun(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(s.ctx)
}

func (s *Scheduler) record(name string, fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[name]; ok {
		fn(st)
	}
}

// Snapshot returns per-job counters keyed by job name, for the monitor job
// and shutdown logging.
func (s *Scheduler) Snapshot() map[string]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

// Stop cancels all job loops and waits up to joinTimeout for them to return.
// Loops still running after the timeout are abandoned with a log line, never
// killed.
func (s *Scheduler) Stop(joinTimeout time.Duration) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logx.Info("scheduler: all jobs stopped cleanly")
		case <-time.After(joinTimeout):
			logx.Errorf("scheduler: shutdown timeout %s exceeded, abandoning remaining jobs", joinTimeout)
		}
	})
}
