package assessment

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
)

const (
	ActivityEventAttemptStarted   auth.ActivityEventType = "assessment.started"
	ActivityEventAttemptSubmitted auth.ActivityEventType = "assessment.submitted"
)

// ErrAttemptNotFound is returned for unknown attempts or attempts of another user.
var ErrAttemptNotFound = goerrors.New("test attempt not found", goerrors.CategoryNotFound).
	WithTextCode("ATTEMPT_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunnerClock injects a custom clock (useful for tests).
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunnerTick sets how long a countdown second lasts.
func WithRunnerTick(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithRunnerLogger overrides the logger.
func WithRunnerLogger(logger auth.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunnerActivitySink records attempt events.
func WithRunnerActivitySink(sink auth.ActivitySink) RunnerOption {
	return func(r *Runner) {
		r.sink = auth.NormalizeActivitySink(sink)
	}
}

// WithOnSubmit is called for every submission, manual or automatic.
func WithOnSubmit(fn func(Submission)) RunnerOption {
	return func(r *Runner) {
		r.onSubmit = fn
	}
}

// Runner owns the running attempts and their countdowns. Attempts and
// results live in memory only.
type Runner struct {
	mu       sync.Mutex
	attempts map[string]*running
	results  map[string][]Submission

	catalog  Catalog
	now      func() time.Time
	tick     time.Duration
	logger   auth.Logger
	sink     auth.ActivitySink
	onSubmit func(Submission)
	wg       sync.WaitGroup
}

type running struct {
	attempt   *Attempt
	countdown *Countdown
	cancel    context.CancelFunc
}

// NewRunner returns a runner serving tests from catalog.
func NewRunner(catalog Catalog, opts ...RunnerOption) *Runner {
	if catalog == nil {
		panic("Missing Catalog in assessment runner...")
	}

	r := &Runner{
		attempts: map[string]*running{},
		results:  map[string][]Submission{},
		catalog:  catalog,
		now:      time.Now,
		tick:     time.Second,
		logger:   auth.DefaultLogger(),
		sink:     auth.NormalizeActivitySink(nil),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Start begins an attempt of testID for userID and arms its countdown.
func (r *Runner) Start(ctx context.Context, testID, userID string) (*Attempt, error) {
	test, err := r.catalog.Get(ctx, testID)
	if err != nil {
		return nil, err
	}

	attempt := NewAttempt(uuid.NewString(), test, userID, r.now())
	countdown := NewCountdown(test.Minutes*60, WithTickInterval(r.tick))
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.attempts[attempt.ID()] = &running{attempt: attempt, countdown: countdown, cancel: cancel}
	r.mu.Unlock()

	r.record(ctx, ActivityEventAttemptStarted, attempt)
	r.logger.Debug("test attempt started", "attempt", attempt.ID(), "test", test.ID, "user_id", userID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = countdown.Run(runCtx, func() {
			if _, err := r.submit(context.Background(), attempt.ID(), true); err != nil {
				r.logger.Debug("auto submit skipped", "attempt", attempt.ID(), "error", err)
			}
		})
	}()

	return attempt, nil
}

// Get returns the running attempt id of userID.
func (r *Runner) Get(id, userID string) (*Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.attempts[id]
	if !ok || run.attempt.UserID() != userID {
		return nil, ErrAttemptNotFound
	}
	return run.attempt, nil
}

// Remaining returns the seconds left on the countdown of attempt id.
func (r *Runner) Remaining(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.attempts[id]; ok {
		return run.countdown.Remaining()
	}
	return 0
}

// Submit closes attempt id of userID before the countdown does.
func (r *Runner) Submit(ctx context.Context, id, userID string) (Submission, error) {
	if _, err := r.Get(id, userID); err != nil {
		return Submission{}, err
	}
	return r.submit(ctx, id, false)
}

// Abandon discards attempt id without a submission.
func (r *Runner) Abandon(id string) {
	r.mu.Lock()
	run, ok := r.attempts[id]
	delete(r.attempts, id)
	r.mu.Unlock()

	if ok {
		run.cancel()
	}
}

// Results returns the submissions of userID, newest first.
func (r *Runner) Results(userID string) []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	results := r.results[userID]
	out := make([]Submission, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		out = append(out, results[i])
	}
	return out
}

// Active returns the number of running attempts.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// Close stops every countdown and waits for them to return. Running
// attempts are discarded.
func (r *Runner) Close() {
	r.mu.Lock()
	attempts := r.attempts
	r.attempts = map[string]*running{}
	r.mu.Unlock()

	for _, run := range attempts {
		run.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) submit(ctx context.Context, id string, auto bool) (Submission, error) {
	r.mu.Lock()
	run, ok := r.attempts[id]
	delete(r.attempts, id)
	r.mu.Unlock()

	if !ok {
		return Submission{}, ErrAttemptNotFound
	}
	run.countdown.Stop()
	run.cancel()

	sub, err := run.attempt.Submit(r.now(), auto)
	if err != nil {
		return sub, err
	}

	r.mu.Lock()
	r.results[sub.UserID] = append(r.results[sub.UserID], sub)
	r.mu.Unlock()

	r.record(ctx, ActivityEventAttemptSubmitted, run.attempt)
	if r.onSubmit != nil {
		r.onSubmit(sub)
	}

	return sub, nil
}

func (r *Runner) record(ctx context.Context, eventType auth.ActivityEventType, a *Attempt) {
	err := r.sink.Record(ctx, auth.ActivityEvent{
		EventType:  eventType,
		Actor:      auth.ActorRef{ID: a.UserID(), Type: "user"},
		UserID:     a.UserID(),
		Metadata:   map[string]any{"attempt_id": a.ID(), "test_id": a.Test().ID},
		OccurredAt: r.now(),
	})
	if err != nil {
		r.logger.Warn("assessment activity record failed", "event", eventType, "error", err)
	}
}
