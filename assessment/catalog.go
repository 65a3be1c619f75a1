// Package assessment runs the in-memory test taking flow: a catalog of
// psychometric tests, attempts that record answers and a countdown that
// submits the attempt when time runs out. Progress is never persisted.
package assessment

import (
	"context"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Type of a test.
type Type string

const (
	TypeAptitude              Type = "aptitude"
	TypePersonality           Type = "personality"
	TypeInterest              Type = "interest"
	TypeEmotionalIntelligence Type = "emotional-intelligence"
	TypeProfessional          Type = "professional"
)

// QuestionType selects how a question is answered.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionLikertScale    QuestionType = "likert-scale"
	QuestionTrueFalse      QuestionType = "true-false"
)

// Difficulty of a test.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Question is a single item of a test. Answers must be one of Options.
type Question struct {
	ID       string       `json:"id"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	Options  []string     `json:"options"`
	Category string       `json:"category,omitempty"`
}

// Accepts reports whether answer is one of the question options.
func (q Question) Accepts(answer string) bool {
	return slices.Contains(q.Options, answer)
}

// Test is a psychometric assessment.
type Test struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Type         Type       `json:"type"`
	Category     string     `json:"category"`
	Difficulty   Difficulty `json:"difficulty"`
	Minutes      int        `json:"duration"`
	Instructions []string   `json:"instructions,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Questions    []Question `json:"questions"`
}

// TimeLimit returns the duration of the test.
func (t Test) TimeLimit() time.Duration {
	return time.Duration(t.Minutes) * time.Minute
}

// Question returns the question with id.
func (t Test) Question(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Filter narrows Catalog.List. Zero fields match everything.
type Filter struct {
	Search     string     `query:"q"`
	Category   string     `query:"category"`
	Difficulty Difficulty `query:"difficulty"`
}

// Match reports whether t passes the filter. Search looks at the title,
// the description and the tags.
func (f Filter) Match(t Test) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, "all") && !strings.EqualFold(f.Category, t.Category) {
		return false
	}
	if f.Difficulty != "" && !strings.EqualFold(string(f.Difficulty), "all") && f.Difficulty != t.Difficulty {
		return false
	}

	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.Title), term) || strings.Contains(strings.ToLower(t.Description), term) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// Catalog lists the tests a user can take.
type Catalog interface {
	List(ctx context.Context, filter Filter) ([]Test, error)
	Get(ctx context.Context, id string) (Test, error)
}

// ErrTestNotFound is returned by Catalog.Get for unknown ids.
var ErrTestNotFound = goerrors.New("test not found", goerrors.CategoryNotFound).
	WithTextCode("TEST_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// StaticCatalog serves a fixed set of tests.
type StaticCatalog struct {
	tests []Test
}

var _ Catalog = (*StaticCatalog)(nil)

// NewStaticCatalog returns a catalog over tests, or over DefaultTests when
// none are given.
func NewStaticCatalog(tests ...Test) *StaticCatalog {
	if len(tests) == 0 {
		tests = DefaultTests()
	}
	return &StaticCatalog{tests: tests}
}

func (c *StaticCatalog) List(_ context.Context, filter Filter) ([]Test, error) {
	out := []Test{}
	for _, t := range c.tests {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *StaticCatalog) Get(_ context.Context, id string) (Test, error) {
	for _, t := range c.tests {
		if t.ID == id {
			return t, nil
		}
	}
	return Test{}, ErrTestNotFound
}

// Categories returns the distinct test categories in catalog order.
func (c *StaticCatalog) Categories() []string {
	out := []string{}
	for _, t := range c.tests {
		if !slices.Contains(out, t.Category) {
			out = append(out, t.Category)
		}
	}
	return out
}

var likert = []string{"Strongly Disagree", "Disagree", "Neutral", "Agree", "Strongly Agree"}

var defaultInstructions = []string{
	"Read each question carefully before selecting your answer",
	"Take your time but be mindful of the time limit",
	"Select the best answer from the given options",
}

func likertItem(id, text, category string) Question {
	return Question{ID: id, Type: QuestionLikertScale, Text: text, Options: likert, Category: category}
}

// DefaultTests returns the tests the portal ships with.
func DefaultTests() []Test {
	return []Test{
		{
			ID:           "1",
			Title:        "Cognitive Aptitude Assessment",
			Description:  "Comprehensive evaluation of verbal, numerical, and logical reasoning abilities.",
			Type:         TypeAptitude,
			Category:     "Cognitive",
			Difficulty:   DifficultyIntermediate,
			Minutes:      45,
			Instructions: defaultInstructions,
			Tags:         []string{"Reasoning", "Problem Solving", "Logic"},
			Questions: []Question{
				{
					ID:   "q1",
					Type: QuestionMultipleChoice,
					Text: "If all roses are flowers and some flowers are red, which statement is definitely true?",
					Options: []string{
						"All roses are red",
						"Some roses might be red",
						"No roses are red",
						"All flowers are roses",
					},
					Category: "logical-reasoning",
				},
				{
					ID:       "q2",
					Type:     QuestionMultipleChoice,
					Text:     "What comes next in the sequence: 2, 6, 18, 54, ?",
					Options:  []string{"108", "162", "216", "270"},
					Category: "numerical-reasoning",
				},
				likertItem("q3", "I enjoy solving complex problems", "personality"),
			},
		},
		{
			ID:           "2",
			Title:        "Big Five Personality Assessment",
			Description:  "Discover your personality across Openness, Conscientiousness, Extraversion, Agreeableness, and Neuroticism.",
			Type:         TypePersonality,
			Category:     "Personality",
			Difficulty:   DifficultyBeginner,
			Minutes:      30,
			Instructions: defaultInstructions,
			Tags:         []string{"Big Five", "Traits", "Behavior"},
			Questions: []Question{
				likertItem("q1", "I see myself as someone who is curious about many different things", "openness"),
				likertItem("q2", "I see myself as someone who does a thorough job", "conscientiousness"),
				likertItem("q3", "I see myself as someone who is outgoing and sociable", "extraversion"),
			},
		},
		{
			ID:           "3",
			Title:        "Career Interest Inventory (RIASEC)",
			Description:  "Identify your professional interests using Holland's RIASEC model.",
			Type:         TypeInterest,
			Category:     "Career",
			Difficulty:   DifficultyBeginner,
			Minutes:      25,
			Instructions: defaultInstructions,
			Tags:         []string{"Career", "Interests", "RIASEC"},
			Questions: []Question{
				likertItem("q1", "I like to build or repair things with my hands", "realistic"),
				likertItem("q2", "I like to study and solve math or science problems", "investigative"),
				likertItem("q3", "I like to help people learn or feel better", "social"),
			},
		},
		{
			ID:           "4",
			Title:        "Emotional Intelligence Assessment",
			Description:  "Measure your ability to recognize, understand, and manage emotions in yourself and others.",
			Type:         TypeEmotionalIntelligence,
			Category:     "Emotional",
			Difficulty:   DifficultyIntermediate,
			Minutes:      35,
			Instructions: defaultInstructions,
			Tags:         []string{"EQ", "Emotions", "Leadership"},
			Questions: []Question{
				likertItem("q1", "I can tell how people are feeling even when they do not say it", "empathy"),
				likertItem("q2", "I stay calm under pressure", "self-regulation"),
			},
		},
		{
			ID:           "5",
			Title:        "Professional Skills Assessment",
			Description:  "Evaluate your workplace competencies including communication, teamwork, and problem solving.",
			Type:         TypeProfessional,
			Category:     "Professional",
			Difficulty:   DifficultyAdvanced,
			Minutes:      40,
			Instructions: defaultInstructions,
			Tags:         []string{"Skills", "Workplace", "Competency"},
			Questions: []Question{
				{
					ID:       "q1",
					Type:     QuestionTrueFalse,
					Text:     "Sharing progress early with stakeholders reduces project risk",
					Options:  []string{"True", "False"},
					Category: "communication",
				},
				likertItem("q2", "I prefer to resolve team conflicts directly", "teamwork"),
			},
		},
		{
			ID:           "6",
			Title:        "Creative Thinking Assessment",
			Description:  "Assess your creative problem-solving abilities and innovative thinking patterns.",
			Type:         TypeAptitude,
			Category:     "Creative",
			Difficulty:   DifficultyIntermediate,
			Minutes:      35,
			Instructions: defaultInstructions,
			Tags:         []string{"Creativity", "Innovation", "Art"},
			Questions: []Question{
				likertItem("q1", "I often come up with unusual uses for everyday objects", "divergent-thinking"),
				likertItem("q2", "I enjoy art, music or writing in my free time", "artistic"),
			},
		},
	}
}
