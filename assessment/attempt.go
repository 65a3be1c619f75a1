package assessment

import (
	"maps"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

var (
	// ErrAttemptSubmitted is returned when changing a submitted attempt.
	ErrAttemptSubmitted = goerrors.New("test already submitted", goerrors.CategoryConflict).
		WithTextCode("ATTEMPT_SUBMITTED").
		WithCode(goerrors.CodeConflict)

	// ErrUnknownQuestion is returned when answering a question the test does not have.
	ErrUnknownQuestion = goerrors.New("question not found", goerrors.CategoryNotFound).
		WithTextCode("QUESTION_NOT_FOUND").
		WithCode(goerrors.CodeNotFound)

	// ErrInvalidAnswer is returned for answers outside the question options.
	ErrInvalidAnswer = goerrors.New("answer is not one of the options", goerrors.CategoryValidation).
		WithTextCode("INVALID_ANSWER").
		WithCode(goerrors.CodeBadRequest)

	// ErrUnanswered is returned by Next while the current question has no answer.
	ErrUnanswered = goerrors.New("answer the current question first", goerrors.CategoryValidation).
		WithTextCode("QUESTION_UNANSWERED").
		WithCode(goerrors.CodeBadRequest)
)

// Submission is the outcome of an attempt. Scoring happens elsewhere.
type Submission struct {
	AttemptID     string            `json:"attempt_id"`
	TestID        string            `json:"test_id"`
	TestTitle     string            `json:"test_title"`
	UserID        string            `json:"user_id"`
	Answers       map[string]string `json:"answers"`
	Answered      int               `json:"answered"`
	Total         int               `json:"total"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
	TimeSpent     time.Duration     `json:"time_spent"`
	AutoSubmitted bool              `json:"auto_submitted"`
}

// AttemptView is what the test page renders.
type AttemptView struct {
	ID        string   `json:"id"`
	TestID    string   `json:"test_id"`
	Title     string   `json:"title"`
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Question  Question `json:"question"`
	Answer    string   `json:"answer,omitempty"`
	Answered  int      `json:"answered"`
	Progress  float64  `json:"progress"`
	IsLast    bool     `json:"is_last"`
	Submitted bool     `json:"submitted"`
}

// Attempt is one user working through a test. It is safe for concurrent
// use, the countdown submits it from its own goroutine.
type Attempt struct {
	mu         sync.Mutex
	id         string
	test       Test
	userID     string
	answers    map[string]string
	current    int
	startedAt  time.Time
	submission *Submission
}

// NewAttempt starts an attempt of test at startedAt on the first question.
func NewAttempt(id string, test Test, userID string, startedAt time.Time) *Attempt {
	return &Attempt{
		id:        id,
		test:      test,
		userID:    userID,
		answers:   map[string]string{},
		startedAt: startedAt,
	}
}

func (a *Attempt) ID() string     { return a.id }
func (a *Attempt) UserID() string { return a.userID }
func (a *Attempt) Test() Test     { return a.test }

// Answer records answer for questionID.
func (a *Attempt) Answer(questionID, answer string) error {
	q, ok := a.test.Question(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if !q.Accepts(answer) {
		return ErrInvalidAnswer
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submission != nil {
		return ErrAttemptSubmitted
	}
	a.answers[questionID] = answer
	return nil
}

// Next moves to the following question. The current question must be
// answered. On the last question it does nothing.
func (a *Attempt) Next() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submission != nil {
		return ErrAttemptSubmitted
	}
	if len(a.test.Questions) == 0 {
		return nil
	}
	if _, ok := a.answers[a.test.Questions[a.current].ID]; !ok {
		return ErrUnanswered
	}
	if a.current < len(a.test.Questions)-1 {
		a.current++
	}
	return nil
}

// Previous moves back one question when there is one.
func (a *Attempt) Previous() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submission == nil && a.current > 0 {
		a.current--
	}
}

// Answers returns a copy of the recorded answers.
func (a *Attempt) Answers() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.answers)
}

// Submitted reports whether the attempt was submitted.
func (a *Attempt) Submitted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submission != nil
}

// Submit closes the attempt. Submitting twice returns the first submission
// together with ErrAttemptSubmitted.
func (a *Attempt) Submit(now time.Time, auto bool) (Submission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.submission != nil {
		return *a.submission, ErrAttemptSubmitted
	}

	a.submission = &Submission{
		AttemptID:     a.id,
		TestID:        a.test.ID,
		TestTitle:     a.test.Title,
		UserID:        a.userID,
		Answers:       maps.Clone(a.answers),
		Answered:      len(a.answers),
		Total:         len(a.test.Questions),
		StartedAt:     a.startedAt,
		CompletedAt:   now,
		TimeSpent:     now.Sub(a.startedAt),
		AutoSubmitted: auto,
	}

	return *a.submission, nil
}

// View returns the current page of the attempt.
func (a *Attempt) View() AttemptView {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := len(a.test.Questions)
	v := AttemptView{
		ID:        a.id,
		TestID:    a.test.ID,
		Title:     a.test.Title,
		Index:     a.current,
		Total:     total,
		Answered:  len(a.answers),
		Submitted: a.submission != nil,
	}
	if total > 0 {
		v.Question = a.test.Questions[a.current]
		v.Answer = a.answers[v.Question.ID]
		v.Progress = float64(a.current+1) / float64(total) * 100
		v.IsLast = a.current == total-1
	}
	return v
}
