package models

import "time"

// QuestionPriority orders clarification questions within a round.
type QuestionPriority string

const (
	PriorityHigh   QuestionPriority = "high"
	PriorityMedium QuestionPriority = "med"
	PriorityLow    QuestionPriority = "low"
)

// Question is a single clarification question posed to the user.
type Question struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Category string           `json:"category"` // quality dimension the question targets
	Priority QuestionPriority `json:"priority"`
}

// ClarificationRound is one question–answer turn. Rounds are append-only:
// answers may be added while the round is current, but a round is never
// rewritten once the next round exists.
type ClarificationRound struct {
	ID        string            `json:"id"`
	Seq       int               `json:"seq"`
	Questions []Question        `json:"questions"`
	Answers   map[string]string `json:"answers"` // question ID → answer text
	Quality   *QualitySnapshot  `json:"quality,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Answered reports whether every question in the round has an answer.
func (r *ClarificationRound) Answered() bool {
	for _, q := range r.Questions {
		if _, ok := r.Answers[q.ID]; !ok {
			return false
		}
	}
	return len(r.Questions) > 0
}
