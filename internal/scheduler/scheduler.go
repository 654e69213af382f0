// Package scheduler coordinates narration generation jobs.
//
// Jobs flow through a priority queue into a bounded pool of workers. Each
// job runs the synthesis call with retry and backoff, then commits the
// result to the cache index. Concurrent requests for the same fingerprint
// coalesce onto a single job: every caller holds its own ticket, and the
// job itself is cancelled only when the last ticket detaches.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/grimfeed/narration-service/internal/cache"
	"github.com/grimfeed/narration-service/internal/core"
)

// State names a job's position in its lifecycle. Transitions are monotonic:
// queued -> running -> {completed | failed | cancelled}.
type State string

// Job states.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Progress hints reported per state.
const (
	progressQueued   = 0
	progressRunning  = 50
	progressTerminal = 100
)

var (
	// ErrUnknownTicket indicates a ticket id that does not exist or has
	// been reaped after its retention window.
	ErrUnknownTicket = errors.New("unknown ticket")
	// ErrSchedulerClosed indicates a submission after shutdown began.
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

const cancelledReason = "narration cancelled"

// job is the scheduler's internal record for one coalesced generation.
type job struct {
	id          string
	fingerprint string
	text        string
	voiceStyle  string
	params      core.VoiceParams
	priority    Priority
	seq         uint64
	submittedAt time.Time
	finishedAt  time.Time

	state       State
	attempts    int
	artifactRef string
	errReason   string
	errClass    core.ErrorClass

	waiters   int
	done      chan struct{}
	cancelRun context.CancelFunc
}

// ticket is one caller's handle onto a job. Detaching a ticket makes its
// polls report cancelled without disturbing the job's other waiters.
type ticket struct {
	id         string
	job        *job
	detached   bool
	detachedAt time.Time
}

// Request describes one narration submission.
type Request struct {
	Fingerprint string
	Text        string
	VoiceStyle  string
	Params      core.VoiceParams
	Priority    Priority
}

// SubmitResult is the outcome of a submission: either an immediate cache
// hit or a ticket for polling.
type SubmitResult struct {
	Cached      bool
	ArtifactRef string
	TicketID    string
	JobID       string
}

// Status is a point-in-time view of a ticket's job.
type Status struct {
	TicketID      string
	JobID         string
	State         State
	Progress      int
	QueuePosition int
	ArtifactRef   string
	ErrorReason   string
	ErrorClass    core.ErrorClass
}

// Config holds the scheduler's tunables.
type Config struct {
	Workers        int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	AttemptTimeout time.Duration
}

// Scheduler owns the job table, the priority queue and the worker pool.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   jobQueue
	jobs    map[string]*job
	active  map[string]*job // fingerprint -> non-terminal job
	tickets map[string]*ticket
	seq     uint64
	closed  bool

	cfg       Config
	cacheIdx  *cache.Index
	synth     core.Synthesizer
	log       *logger.Logger
	workersWG sync.WaitGroup
}

// New creates a scheduler and starts its worker pool.
func New(cfg Config, cacheIdx *cache.Index, synth core.Synthesizer, log *logger.Logger) *Scheduler {
	sched := &Scheduler{
		mu:        sync.Mutex{},
		cond:      nil,
		queue:     jobQueue{},
		jobs:      make(map[string]*job),
		active:    make(map[string]*job),
		tickets:   make(map[string]*ticket),
		seq:       0,
		closed:    false,
		cfg:       cfg,
		cacheIdx:  cacheIdx,
		synth:     synth,
		log:       log,
		workersWG: sync.WaitGroup{},
	}
	sched.cond = sync.NewCond(&sched.mu)

	for workerIndex := 0; workerIndex < cfg.Workers; workerIndex++ {
		sched.workersWG.Add(1)

		go sched.workerLoop()
	}

	return sched
}

// Submit consults the cache first; on a hit it returns the artifact
// reference synchronously without creating a job. On a miss it either
// attaches to an existing in-flight job for the same fingerprint or
// enqueues a new one, and returns a ticket for polling.
func (s *Scheduler) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	if _, location, ok := s.cacheIdx.Lookup(ctx, req.Fingerprint); ok {
		return SubmitResult{Cached: true, ArtifactRef: location, TicketID: "", JobID: ""}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return SubmitResult{}, ErrSchedulerClosed
	}

	ticketID := uuid.NewString()

	if existing, ok := s.active[req.Fingerprint]; ok {
		existing.waiters++
		s.tickets[ticketID] = &ticket{id: ticketID, job: existing, detached: false, detachedAt: time.Time{}}

		s.log.Info("Coalesced request onto job %s (fingerprint %s, waiters %d)",
			existing.id, req.Fingerprint, existing.waiters)

		return SubmitResult{Cached: false, ArtifactRef: "", TicketID: ticketID, JobID: existing.id}, nil
	}

	s.seq++
	newJob := &job{
		id:          uuid.NewString(),
		fingerprint: req.Fingerprint,
		text:        req.Text,
		voiceStyle:  req.VoiceStyle,
		params:      req.Params,
		priority:    req.Priority,
		seq:         s.seq,
		submittedAt: time.Now(),
		finishedAt:  time.Time{},
		state:       StateQueued,
		attempts:    0,
		artifactRef: "",
		errReason:   "",
		errClass:    "",
		waiters:     1,
		done:        make(chan struct{}),
		cancelRun:   nil,
	}

	heap.Push(&s.queue, newJob)
	s.jobs[newJob.id] = newJob
	s.active[req.Fingerprint] = newJob
	s.tickets[ticketID] = &ticket{id: ticketID, job: newJob, detached: false, detachedAt: time.Time{}}
	s.cond.Signal()

	s.log.Info("Enqueued job %s (fingerprint %s, priority %s)",
		newJob.id, req.Fingerprint, req.Priority)

	return SubmitResult{Cached: false, ArtifactRef: "", TicketID: ticketID, JobID: newJob.id}, nil
}

// Status is a pure, non-blocking read of the ticket's current state.
func (s *Scheduler) Status(ticketID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tck, ok := s.tickets[ticketID]
	if !ok {
		return Status{}, ErrUnknownTicket
	}

	return s.statusLocked(tck), nil
}

// Cancel detaches the ticket from its job. The job itself is cancelled only
// when its last waiter detaches: a queued job is removed before it can run,
// a running job has its in-flight call interrupted best-effort. Cancelling
// an already-terminal or already-detached ticket is a no-op.
func (s *Scheduler) Cancel(ticketID string) error {
	s.mu.Lock()

	tck, ok := s.tickets[ticketID]
	if !ok {
		s.mu.Unlock()

		return ErrUnknownTicket
	}

	if tck.detached || tck.job.state.Terminal() {
		s.mu.Unlock()

		return nil
	}

	tck.detached = true
	tck.detachedAt = time.Now()
	tck.job.waiters--

	if tck.job.waiters > 0 {
		s.log.Info("Detached ticket %s from job %s (%d waiters remain)",
			ticketID, tck.job.id, tck.job.waiters)
		s.mu.Unlock()

		return nil
	}

	s.cancelJobLocked(tck.job)
	s.mu.Unlock()

	return nil
}

// Await blocks until the ticket's job reaches a terminal state or ctx ends,
// then returns the final status.
func (s *Scheduler) Await(ctx context.Context, ticketID string) (Status, error) {
	s.mu.Lock()

	tck, ok := s.tickets[ticketID]
	if !ok {
		s.mu.Unlock()

		return Status{}, ErrUnknownTicket
	}

	if tck.detached {
		status := s.statusLocked(tck)
		s.mu.Unlock()

		return status, nil
	}

	done := tck.job.done
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-done:
	}

	return s.Status(ticketID)
}

// ReapTerminal removes tickets and jobs that have been terminal (or
// detached) longer than the retention window, and returns how many tickets
// were reaped. Callers polling within the window always observe the
// terminal state; afterwards they get ErrUnknownTicket.
func (s *Scheduler) ReapTerminal(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	reaped := 0

	for ticketID, tck := range s.tickets {
		expired := false

		switch {
		case tck.detached:
			expired = now.Sub(tck.detachedAt) > retention
		case tck.job.state.Terminal():
			expired = now.Sub(tck.job.finishedAt) > retention
		}

		if expired {
			delete(s.tickets, ticketID)

			reaped++
		}
	}

	for jobID, terminal := range s.jobs {
		if terminal.state.Terminal() && now.Sub(terminal.finishedAt) > retention {
			delete(s.jobs, jobID)
		}
	}

	return reaped
}

// CancelAbandoned force-cancels non-terminal jobs older than the timeout,
// detaching all their waiters, and returns how many jobs were cancelled.
// This protects the worker pool from callers that stopped polling.
func (s *Scheduler) CancelAbandoned(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cancelled := 0

	for _, abandoned := range s.jobs {
		if abandoned.state.Terminal() || now.Sub(abandoned.submittedAt) <= timeout {
			continue
		}

		s.log.Warn("Cancelling abandoned job %s (age %s)", abandoned.id, now.Sub(abandoned.submittedAt))

		for _, tck := range s.tickets {
			if tck.job == abandoned && !tck.detached {
				tck.detached = true
				tck.detachedAt = now
			}
		}

		abandoned.waiters = 0
		s.cancelJobLocked(abandoned)

		cancelled++
	}

	return cancelled
}

// Shutdown stops accepting work, interrupts running jobs and waits for the
// workers to exit or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true

	for _, running := range s.jobs {
		if running.state == StateRunning && running.cancelRun != nil {
			running.cancelRun()
		}
	}

	s.cond.Broadcast()
	s.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		s.workersWG.Wait()
		close(finished)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // shutdown deadline, nothing to add
	case <-finished:
		return nil
	}
}

func (s *Scheduler) workerLoop() {
	defer s.workersWG.Done()

	for {
		s.mu.Lock()

		for s.queue.Len() == 0 && !s.closed {
			s.cond.Wait()
		}

		if s.closed {
			s.mu.Unlock()

			return
		}

		next := heap.Pop(&s.queue).(*job)
		if next.state != StateQueued {
			// Cancelled while queued; removal from the heap is lazy.
			s.mu.Unlock()

			continue
		}

		next.state = StateRunning
		runCtx, cancel := context.WithCancel(context.Background())
		next.cancelRun = cancel
		s.mu.Unlock()

		s.runJob(runCtx, next)
		cancel()
	}
}

// runJob drives one job through its synthesis attempts. The scheduler lock
// is never held across the provider call or the cache commit.
func (s *Scheduler) runJob(ctx context.Context, current *job) {
	delay := s.cfg.RetryBaseDelay

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		s.mu.Lock()
		current.attempts = attempt
		s.mu.Unlock()

		audio, err := s.synthesizeOnce(ctx, current)

		if ctx.Err() != nil {
			s.finishJob(current, StateCancelled, "", cancelledReason, "")

			return
		}

		if err == nil {
			s.commitResult(current, audio)

			return
		}

		class := core.ClassOf(err)
		if class == core.ErrorClassPermanent {
			s.log.Error("Job %s failed permanently on attempt %d: %v", current.id, attempt, err)
			s.finishJob(current, StateFailed, "", err.Error(), class)

			return
		}

		if attempt == s.cfg.MaxAttempts {
			s.log.Error("Job %s exhausted %d attempts: %v", current.id, attempt, err)
			s.finishJob(current, StateFailed, "", err.Error(), class)

			return
		}

		s.log.Warn("Job %s attempt %d failed, retrying in %s: %v", current.id, attempt, delay, err)

		if !sleepInterruptible(ctx, delay) {
			s.finishJob(current, StateCancelled, "", cancelledReason, "")

			return
		}

		delay *= 2
	}
}

func (s *Scheduler) synthesizeOnce(ctx context.Context, current *job) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	audio, err := s.synth.Synthesize(attemptCtx, current.text, current.params)
	if err != nil {
		return nil, err //nolint:wrapcheck // classification must survive unwrapped
	}

	return audio, nil
}

// commitResult writes the audio to the cache and completes the job. A
// cancellation racing the commit wins: bytes received for a cancelled job
// are discarded, never cached.
func (s *Scheduler) commitResult(current *job, audio []byte) {
	s.mu.Lock()
	discarded := current.waiters == 0 || current.state.Terminal()
	s.mu.Unlock()

	if discarded {
		s.finishJob(current, StateCancelled, "", cancelledReason, "")

		return
	}

	location, err := s.cacheIdx.Insert(context.Background(), current.fingerprint, audio, current.voiceStyle)
	if err != nil {
		s.log.Error("Job %s could not store its artifact: %v", current.id, err)
		s.finishJob(current, StateFailed, "", "failed to store artifact: "+err.Error(), core.ErrorClassStorage)

		return
	}

	s.finishJob(current, StateCompleted, location, "", "")
}

// finishJob transitions the job to a terminal state exactly once.
func (s *Scheduler) finishJob(current *job, state State, artifactRef, reason string, class core.ErrorClass) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current.state.Terminal() {
		return
	}

	current.state = state
	current.artifactRef = artifactRef
	current.errReason = reason
	current.errClass = class
	current.finishedAt = time.Now()
	delete(s.active, current.fingerprint)
	close(current.done)

	s.log.Info("Job %s finished: %s", current.id, state)
}

// cancelJobLocked cancels a job whose last waiter has detached.
func (s *Scheduler) cancelJobLocked(current *job) {
	switch current.state {
	case StateQueued:
		current.state = StateCancelled
		current.errReason = cancelledReason
		current.finishedAt = time.Now()
		delete(s.active, current.fingerprint)
		close(current.done)

		s.log.Info("Job %s cancelled while queued", current.id)
	case StateRunning:
		// The worker observes the context cancellation and finishes the
		// job as cancelled; the in-flight provider call is abandoned.
		if current.cancelRun != nil {
			current.cancelRun()
		}

		s.log.Info("Job %s cancellation requested while running", current.id)
	case StateCompleted, StateFailed, StateCancelled:
	}
}

func (s *Scheduler) statusLocked(tck *ticket) Status {
	if tck.detached {
		return Status{
			TicketID:      tck.id,
			JobID:         tck.job.id,
			State:         StateCancelled,
			Progress:      progressTerminal,
			QueuePosition: -1,
			ArtifactRef:   "",
			ErrorReason:   cancelledReason,
			ErrorClass:    "",
		}
	}

	current := tck.job
	status := Status{
		TicketID:      tck.id,
		JobID:         current.id,
		State:         current.state,
		Progress:      progressTerminal,
		QueuePosition: -1,
		ArtifactRef:   current.artifactRef,
		ErrorReason:   current.errReason,
		ErrorClass:    current.errClass,
	}

	switch current.state {
	case StateQueued:
		status.Progress = progressQueued
		status.QueuePosition = s.queuePositionLocked(current)
	case StateRunning:
		status.Progress = progressRunning
	case StateCompleted, StateFailed, StateCancelled:
	}

	return status
}

// queuePositionLocked counts queued jobs that dequeue before current.
func (s *Scheduler) queuePositionLocked(current *job) int {
	position := 0

	for _, queued := range s.queue {
		if queued.state == StateQueued && queued != current && ordersBefore(queued, current) {
			position++
		}
	}

	return position
}

// sleepInterruptible waits for d and reports false if ctx ended first.
func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
