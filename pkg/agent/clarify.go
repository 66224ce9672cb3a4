package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/specsmith/specsmith/pkg/config"
	"github.com/specsmith/specsmith/pkg/llm"
	"github.com/specsmith/specsmith/pkg/models"
)

// Clarifier wraps the structured clarification calls: dimension scoring and
// question generation. Unlike the generic runtime it parses typed outputs,
// so it lives apart from Execute.
type Clarifier struct {
	role      *config.RoleSpec
	completer Completer
}

// NewClarifier builds the clarification helper.
func NewClarifier(role *config.RoleSpec, completer Completer) *Clarifier {
	if role == nil {
		panic("agent: NewClarifier requires a role")
	}
	return &Clarifier{role: role, completer: completer}
}

type assessResponse struct {
	Dimensions map[string]struct {
		Score        float64  `json:"score"`
		Deficiencies []string `json:"deficiencies"`
	} `json:"dimensions"`
}

type questionsResponse struct {
	Questions []struct {
		Text     string `json:"text"`
		Category string `json:"category"`
		Priority string `json:"priority"`
	} `json:"questions"`
}

// Assess scores the requirement, as amended by the answered rounds, on every
// quality dimension. The gate itself is evaluated by the caller.
func (c *Clarifier) Assess(ctx context.Context, ec *ExecutionContext) (*models.QualitySnapshot, error) {
	prompt := assessPrompt(ec)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := c.completer.Complete(ctx, llm.CallQuick, systemPrompt(c.role), prompt)
		if err != nil {
			return nil, err
		}
		var resp assessResponse
		if err := decodeJSON(text, &resp); err != nil {
			lastErr = err
			continue
		}
		snapshot := &models.QualitySnapshot{
			Dimensions: make(map[string]models.DimensionScore, len(models.QualityDimensions)),
		}
		for _, dim := range models.QualityDimensions {
			d := resp.Dimensions[dim]
			snapshot.Dimensions[dim] = models.DimensionScore{
				Score:        clamp01(d.Score),
				Deficiencies: d.Deficiencies,
			}
		}
		return snapshot, nil
	}
	return nil, &transientError{op: "assess_parse", err: lastErr}
}

// Questions generates up to limit clarification questions targeting the
// weakest dimensions. maxHigh caps how many may be high priority.
func (c *Clarifier) Questions(ctx context.Context, ec *ExecutionContext, snapshot *models.QualitySnapshot, limit, maxHigh int) ([]models.Question, error) {
	prompt := questionsPrompt(ec, snapshot, limit)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := c.completer.Complete(ctx, llm.CallQuick, systemPrompt(c.role), prompt)
		if err != nil {
			return nil, err
		}
		var resp questionsResponse
		if err := decodeJSON(text, &resp); err != nil {
			lastErr = err
			continue
		}
		return shapeQuestions(resp, limit, maxHigh), nil
	}
	return nil, &transientError{op: "questions_parse", err: lastErr}
}

// shapeQuestions enforces the per-round budget: at most limit questions and
// at most maxHigh of them high priority; overflow high-priority questions
// are demoted, not dropped.
func shapeQuestions(resp questionsResponse, limit, maxHigh int) []models.Question {
	questions := make([]models.Question, 0, limit)
	high := 0
	for _, q := range resp.Questions {
		if len(questions) == limit {
			break
		}
		if strings.TrimSpace(q.Text) == "" {
			continue
		}
		priority := models.QuestionPriority(q.Priority)
		switch priority {
		case models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
		default:
			priority = models.PriorityMedium
		}
		if priority == models.PriorityHigh {
			if high == maxHigh {
				priority = models.PriorityMedium
			} else {
				high++
			}
		}
		questions = append(questions, models.Question{
			ID:       uuid.New().String(),
			Text:     q.Text,
			Category: q.Category,
			Priority: priority,
		})
	}
	return questions
}

func assessPrompt(ec *ExecutionContext) string {
	var sb strings.Builder
	sb.WriteString(requirementBlock(ec))
	fmt.Fprintf(&sb, `
## Task
Assess how completely this requirement (with all clarification answers) covers
each dimension, scoring 0.0 (absent) to 1.0 (fully specified):
%s.

Respond with JSON:
{"dimensions": {"<dimension>": {"score": 0.0, "deficiencies": ["<what is missing>"]}}}
Include every dimension.
`, strings.Join(models.QualityDimensions, ", "))
	return sb.String()
}

func questionsPrompt(ec *ExecutionContext, snapshot *models.QualitySnapshot, limit int) string {
	var sb strings.Builder
	sb.WriteString(requirementBlock(ec))
	sb.WriteString("\n## Weakest dimensions\n")
	for _, dim := range models.QualityDimensions {
		d, ok := snapshot.Dimensions[dim]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %.2f", dim, d.Score)
		if len(d.Deficiencies) > 0 {
			fmt.Fprintf(&sb, " (missing: %s)", strings.Join(d.Deficiencies, "; "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, `
## Task
Write at most %d clarification questions for the user, targeting the lowest
scoring dimensions first. Never re-ask something already answered.

Respond with JSON:
{"questions": [{"text": "<question>", "category": "<dimension>", "priority": "high|med|low"}]}
`, limit)
	return sb.String()
}
