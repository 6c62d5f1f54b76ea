package services

import "math/rand"

// QuestionSource picks the prompt for a new love note
type QuestionSource interface {
	Pick(userA, userB string) string
}

// DefaultQuestions is the built-in daily question pool
var DefaultQuestions = []string{
	"What was the best part of your day?",
	"What is a small thing that always makes you smile?",
	"If we could travel anywhere tomorrow, where would you go?",
	"What song have you had on repeat lately?",
	"What is something you are looking forward to this week?",
	"What is your favorite memory from childhood?",
	"Which hobby would you love to pick up if you had the time?",
	"What is the most spontaneous thing you have ever done?",
	"What does a perfect lazy Sunday look like for you?",
	"What is a book or movie that changed how you see things?",
	"What is one thing most people don't know about you?",
	"What is your comfort food?",
}

// RandomQuestions picks uniformly from a fixed pool without tracking history
type RandomQuestions struct {
	questions []string
}

// NewRandomQuestions creates a source over questions, or DefaultQuestions when empty
func NewRandomQuestions(questions []string) *RandomQuestions {
	if len(questions) == 0 {
		questions = DefaultQuestions
	}
	pool := make([]string, len(questions))
	copy(pool, questions)
	return &RandomQuestions{questions: pool}
}

// Pick implements QuestionSource
func (q *RandomQuestions) Pick(_, _ string) string {
	return q.questions[rand.Intn(len(q.questions))]
}
