package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specsmith/specsmith/pkg/config"
	"github.com/specsmith/specsmith/pkg/llm"
	"github.com/specsmith/specsmith/pkg/models"
)

func clarifierRole() *config.RoleSpec {
	return config.BuiltinRoles()[config.RoleClarifier]
}

func TestAssessParsesEveryDimension(t *testing.T) {
	sc := &scriptedCompleter{handler: func(int, llm.CallMode, string) (string, error) {
		return `{"dimensions": {
			"functional": {"score": 0.8, "deficiencies": []},
			"non_functional": {"score": 0.4, "deficiencies": ["no latency target"]},
			"user_roles": {"score": 0.9, "deficiencies": []},
			"business_rules": {"score": 0.6, "deficiencies": []},
			"constraints": {"score": 0.5, "deficiencies": []},
			"acceptance_criteria": {"score": 0.3, "deficiencies": ["none stated"]},
			"integration": {"score": 0.7, "deficiencies": []},
			"data": {"score": 1.2, "deficiencies": []}
		}}`, nil
	}}
	c := NewClarifier(clarifierRole(), sc)

	snapshot, err := c.Assess(context.Background(), testExecution())
	require.NoError(t, err)
	assert.Len(t, snapshot.Dimensions, len(models.QualityDimensions))
	assert.InDelta(t, 0.4, snapshot.Dimensions["non_functional"].Score, 1e-9)
	assert.Equal(t, []string{"no latency target"}, snapshot.Dimensions["non_functional"].Deficiencies)
	// Out-of-range model output is clamped.
	assert.Equal(t, 1.0, snapshot.Dimensions["data"].Score)
}

func TestAssessMissingDimensionScoresZero(t *testing.T) {
	sc := &scriptedCompleter{handler: func(int, llm.CallMode, string) (string, error) {
		return `{"dimensions": {"functional": {"score": 0.9}}}`, nil
	}}
	c := NewClarifier(clarifierRole(), sc)

	snapshot, err := c.Assess(context.Background(), testExecution())
	require.NoError(t, err)
	assert.Zero(t, snapshot.Dimensions["data"].Score)
	assert.Len(t, snapshot.Dimensions, len(models.QualityDimensions))
}

func TestAssessParseRetryThenTransient(t *testing.T) {
	calls := 0
	sc := &scriptedCompleter{handler: func(int, llm.CallMode, string) (string, error) {
		calls++
		return "not json", nil
	}}
	c := NewClarifier(clarifierRole(), sc)

	_, err := c.Assess(context.Background(), testExecution())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, calls)
}

func TestQuestionsEnforcesBudget(t *testing.T) {
	sc := &scriptedCompleter{handler: func(int, llm.CallMode, string) (string, error) {
		return `{"questions": [
			{"text": "q1", "category": "functional", "priority": "high"},
			{"text": "q2", "category": "acceptance_criteria", "priority": "high"},
			{"text": "q3", "category": "user_roles", "priority": "high"},
			{"text": "q4", "category": "data", "priority": "high"},
			{"text": "q5", "category": "constraints", "priority": "weird"},
			{"text": "q6", "category": "integration", "priority": "low"}
		]}`, nil
	}}
	c := NewClarifier(clarifierRole(), sc)
	snapshot := &models.QualitySnapshot{Dimensions: map[string]models.DimensionScore{}}

	questions, err := c.Questions(context.Background(), testExecution(), snapshot, 5, 3)
	require.NoError(t, err)
	require.Len(t, questions, 5)

	high := 0
	for _, q := range questions {
		require.NotEmpty(t, q.ID)
		if q.Priority == models.PriorityHigh {
			high++
		}
	}
	assert.Equal(t, 3, high)
	// The fourth high-priority question was demoted, not dropped.
	assert.Equal(t, models.PriorityMedium, questions[3].Priority)
	// Unknown priorities normalize to medium.
	assert.Equal(t, models.PriorityMedium, questions[4].Priority)
}

func TestQuestionsSkipsBlankText(t *testing.T) {
	sc := &scriptedCompleter{handler: func(int, llm.CallMode, string) (string, error) {
		return `{"questions": [{"text": "  ", "priority": "high"}, {"text": "real question", "priority": "low"}]}`, nil
	}}
	c := NewClarifier(clarifierRole(), sc)

	questions, err := c.Questions(context.Background(), testExecution(),
		&models.QualitySnapshot{}, 5, 3)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "real question", questions[0].Text)
}

func TestQuestionsPromptNamesWeakDimensions(t *testing.T) {
	var captured string
	sc := &scriptedCompleter{handler: func(_ int, _ llm.CallMode, prompt string) (string, error) {
		captured = prompt
		return `{"questions": []}`, nil
	}}
	c := NewClarifier(clarifierRole(), sc)
	snapshot := &models.QualitySnapshot{Dimensions: map[string]models.DimensionScore{
		"acceptance_criteria": {Score: 0.2, Deficiencies: []string{"no testable criteria"}},
	}}

	_, err := c.Questions(context.Background(), testExecution(), snapshot, 5, 3)
	require.NoError(t, err)
	assert.True(t, strings.Contains(captured, "acceptance_criteria"))
	assert.True(t, strings.Contains(captured, "no testable criteria"))
}
