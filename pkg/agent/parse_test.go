package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONPlainObject(t *testing.T) {
	var plan thinkPlan
	require.NoError(t, decodeJSON(`{"summary": "x", "next_actions": ["a", "b"]}`, &plan))
	assert.Equal(t, "x", plan.Summary)
	assert.Len(t, plan.NextActions, 2)
}

func TestDecodeJSONFencedWithProse(t *testing.T) {
	text := "Here is my plan:\n```json\n{\"summary\": \"y\", \"next_actions\": []}\n```\nLet me know."
	var plan thinkPlan
	require.NoError(t, decodeJSON(text, &plan))
	assert.Equal(t, "y", plan.Summary)
}

func TestDecodeJSONEmbeddedInProse(t *testing.T) {
	text := `Sure! {"summary": "z", "next_actions": ["only step"]} Hope that helps.`
	var plan thinkPlan
	require.NoError(t, decodeJSON(text, &plan))
	assert.Equal(t, "z", plan.Summary)
}

func TestDecodeJSONBracesInsideStrings(t *testing.T) {
	text := `{"summary": "handle {braces} and \"quotes\"", "next_actions": []}`
	var plan thinkPlan
	require.NoError(t, decodeJSON(text, &plan))
	assert.Contains(t, plan.Summary, "{braces}")
}

func TestDecodeJSONFailures(t *testing.T) {
	var plan thinkPlan
	assert.Error(t, decodeJSON("no object at all", &plan))
	assert.Error(t, decodeJSON(`{"summary": "unterminated`, &plan))
	assert.Error(t, decodeJSON(`{"summary": 42}`, &plan))
}

func TestClamp01(t *testing.T) {
	assert.Zero(t, clamp01(-0.3))
	assert.Equal(t, 1.0, clamp01(1.7))
	assert.Equal(t, 0.5, clamp01(0.5))
}
