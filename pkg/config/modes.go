package config

import (
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// ModeProfile is the per-mode shape of the flow: task budgets, clarification
// budget, and which phases run.
type ModeProfile struct {
	// TaskTimeout bounds one agent cycle (Think→Act→Reflect).
	TaskTimeout time.Duration
	// MaxRounds caps clarification rounds for the mode.
	MaxRounds int
	// QuestionsPerRound caps questions generated per round.
	QuestionsPerRound int
	// SkipReview drops the reviewing phase entirely.
	SkipReview bool
	// ReviewRetry allows one re-document iteration after a failed review.
	ReviewRetry bool
}

// Profile resolves the profile for a session mode. Unknown modes fall back
// to the standard profile.
func (c *Config) Profile(mode models.Mode) ModeProfile {
	switch mode {
	case models.ModeQuick:
		// Quick sessions ask exactly three questions in a single-digit
		// round budget and skip review.
		return ModeProfile{
			TaskTimeout:       30 * time.Second,
			MaxRounds:         3,
			QuestionsPerRound: 3,
			SkipReview:        true,
		}
	case models.ModeDeep:
		return ModeProfile{
			TaskTimeout:       180 * time.Second,
			MaxRounds:         c.Flow.MaxRounds,
			QuestionsPerRound: c.Flow.QuestionsPerRound,
			ReviewRetry:       true,
		}
	case models.ModeWorkflow:
		return ModeProfile{
			TaskTimeout:       90 * time.Second,
			MaxRounds:         c.Flow.MaxRounds,
			QuestionsPerRound: c.Flow.QuestionsPerRound,
		}
	default: // standard
		return ModeProfile{
			TaskTimeout:       90 * time.Second,
			MaxRounds:         c.Flow.MaxRounds,
			QuestionsPerRound: c.Flow.QuestionsPerRound,
		}
	}
}
