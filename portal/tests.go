package portal

import (
	"errors"
	"net/http"

		"github.com/goliatone/go-portal-auth/assessment"
	"github.com/goliatone/go-portal-auth/paginate"
	"github.com/goliatone/go-router"
)

// Tests lists the catalog, filtered by the q, category and difficulty
// query parameters.
func (p *Portal) Tests(c router.Context) error {
	filter := assessment.Filter{
		Search:     c.Query("q"),
		Category:   c.Query("category"),
		Difficulty: assessment.Difficulty(c.Query("difficulty")),
	}

	tests, err := p.catalog.List(c.Context(), filter)
	if err != nil {
		return p.respondError(c, "tests", nil, err)
	}

	params := paginate.ParseParams(c.Query("page"), c.Query("per_page"), paginate.DefaultPageSize)
	items, meta := paginate.Window(tests, params.Page, params.PerPage)

	data := router.ViewContext{
		"tests":  items,
		"meta":   meta,
		"filter": filter,
	}
	if lister, ok := p.catalog.(interface{ Categories() []string }); ok {
		data["categories"] = lister.Categories()
	}

	return p.respond(c, "tests", data)
}

// TestShow renders the details and instructions of a test.
func (p *Portal) TestShow(c router.Context) error {
	test, err := p.catalog.Get(c.Context(), c.Param("id"))
	if err != nil {
		return p.respondError(c, "not_found", nil, err)
	}

	return p.respond(c, "test", router.ViewContext{
		"test":       test,
		"time_limit": assessment.FormatRemaining(test.Minutes * 60),
	})
}

// TestStart begins an attempt and sends the user to its first question.
func (p *Portal) TestStart(c router.Context) error {
	_, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "test", nil, err)
	}

	attempt, err := p.runner.Start(c.Context(), c.Param("id"), user.ID)
	if err != nil {
		return p.respondError(c, "not_found", nil, err)
	}

	if wantsJSON(c) {
		return c.JSON(http.StatusCreated, p.attemptData(attempt))
	}

	return c.Redirect("/attempts/"+attempt.ID(), http.StatusSeeOther)
}

// AttemptShow renders the current question of a running attempt.
func (p *Portal) AttemptShow(c router.Context) error {
	attempt, err := p.attempt(c)
	if err != nil {
		return p.attemptGone(c)
	}
	return p.respond(c, "attempt", p.attemptData(attempt))
}

type answerRequest struct {
	QuestionID string `form:"question_id" json:"question_id"`
	Answer     string `form:"answer" json:"answer"`
	// Action is next, previous or submit. Empty only records the answer.
	Action string `form:"action" json:"action"`
}

// AttemptAnswer records an answer and moves through the test.
func (p *Portal) AttemptAnswer(c router.Context) error {
	attempt, err := p.attempt(c)
	if err != nil {
		return p.attemptGone(c)
	}

	payload := answerRequest{}
	if err := c.Bind(&payload); err != nil {
		data := p.attemptData(attempt)
		data["errors"] = map[string]string{"form": "Failed to parse form"}
		return p.respondStatus(c, http.StatusBadRequest, "attempt", data)
	}

	if payload.Answer != "" {
		questionID := payload.QuestionID
		if questionID == "" {
			questionID = attempt.View().Question.ID
		}
		if err := attempt.Answer(questionID, payload.Answer); err != nil {
			return p.answerFailed(c, attempt, err)
		}
	}

	switch payload.Action {
	case "next":
		if err := attempt.Next(); err != nil {
			return p.answerFailed(c, attempt, err)
		}
	case "previous":
		attempt.Previous()
	case "submit":
		return p.AttemptSubmit(c)
	}

	if wantsJSON(c) {
		return c.JSON(http.StatusOK, p.attemptData(attempt))
	}
	return c.Redirect("/attempts/"+attempt.ID(), http.StatusSeeOther)
}

// AttemptSubmit closes an attempt before its countdown runs out.
func (p *Portal) AttemptSubmit(c router.Context) error {
	_, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "attempt", nil, err)
	}

	submission, err := p.runner.Submit(c.Context(), c.Param("attempt"), user.ID)
	switch {
	case errors.Is(err, assessment.ErrAttemptNotFound):
		return p.attemptGone(c)
	case err != nil && !errors.Is(err, assessment.ErrAttemptSubmitted):
		return p.respondError(c, "attempt", nil, err)
	}

	if wantsJSON(c) {
		return c.JSON(http.StatusOK, submission)
	}
	return c.Redirect("/results", http.StatusSeeOther)
}

// Results lists the submissions of the signed in user.
func (p *Portal) Results(c router.Context) error {
	_, user, err := p.session(c)
	if err != nil {
		return p.respondError(c, "results", nil, err)
	}

	params := paginate.ParseParams(c.Query("page"), c.Query("per_page"), paginate.DefaultPageSize)
	items, meta := paginate.Window(p.runner.Results(user.ID), params.Page, params.PerPage)

	return p.respond(c, "results", router.ViewContext{
		"results": items,
		"meta":    meta,
	})
}

func (p *Portal) attempt(c router.Context) (*assessment.Attempt, error) {
	_, user, err := p.session(c)
	if err != nil {
		return nil, err
	}
	return p.runner.Get(c.Param("attempt"), user.ID)
}

func (p *Portal) attemptData(attempt *assessment.Attempt) router.ViewContext {
	remaining := p.runner.Remaining(attempt.ID())
	return router.ViewContext{
		"attempt":   attempt.View(),
		"remaining": remaining,
		"countdown": assessment.FormatRemaining(remaining),
		"errors":    map[string]string{},
	}
}

func (p *Portal) answerFailed(c router.Context, attempt *assessment.Attempt, err error) error {
	data := p.attemptData(attempt)
	return p.respondError(c, "attempt", data, err)
}

// attemptGone handles attempts that were submitted, possibly by the
// countdown, or never existed. Progress is not kept, so the user starts over.
func (p *Portal) attemptGone(c router.Context) error {
	if wantsJSON(c) {
		return c.JSON(http.StatusNotFound, router.ViewContext{
			"error":     assessment.ErrAttemptNotFound.Message,
			"text_code": assessment.ErrAttemptNotFound.TextCode,
		})
	}
	return c.Redirect("/results", http.StatusSeeOther)
}
