package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/specsmith/specsmith/pkg/config"
)

const systemPreamble = `You are %s, part of a requirements-engineering team turning a raw
product requirement into a reviewed specification. Be precise and concrete.
When asked for JSON, respond with a single JSON object and nothing else.`

func systemPrompt(role *config.RoleSpec) string {
	return fmt.Sprintf(systemPreamble, role.Name)
}

// requirementBlock renders the requirement plus everything learned in
// clarification so far.
func requirementBlock(ec *ExecutionContext) string {
	var sb strings.Builder
	sb.WriteString("## Requirement\n")
	sb.WriteString(ec.Requirement)
	sb.WriteString("\n")
	if ec.ProjectContext != "" {
		sb.WriteString("\n## Project context\n")
		sb.WriteString(ec.ProjectContext)
		sb.WriteString("\n")
	}
	for _, round := range ec.Rounds {
		if len(round.Answers) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n## Clarification round %d\n", round.Seq)
		for _, q := range round.Questions {
			answer, ok := round.Answers[q.ID]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", q.Text, answer)
		}
	}
	return sb.String()
}

// sharedBlock renders the collaboration state entries visible to this role.
func sharedBlock(ec *ExecutionContext) string {
	if ec.Collab == nil || len(ec.Collab.Shared) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## Team findings so far\n")
	for _, key := range sortedKeys(ec.Collab.Shared) {
		fmt.Fprintf(&sb, "### %s\n%s\n", key, string(ec.Collab.Shared[key]))
	}
	return sb.String()
}

func thinkPrompt(role *config.RoleSpec, ec *ExecutionContext) string {
	var sb strings.Builder
	sb.WriteString(requirementBlock(ec))
	sb.WriteString(sharedBlock(ec))
	fmt.Fprintf(&sb, `
## Task
Plan your work as %s for the step %q. Identify what matters most in this
requirement for your role.

Respond with JSON:
{"summary": "<one sentence>", "insights": ["<observation>"], "next_actions": ["<step>"],
 "confidence": 0.0, "reasoning_chain": ["<reasoning step>"]}
`, role.Name, ec.TaskName)
	return sb.String()
}

func actPrompt(role *config.RoleSpec, ec *ExecutionContext, subStep string, plan *thinkPlan, critique string) string {
	var sb strings.Builder
	sb.WriteString(requirementBlock(ec))
	sb.WriteString(sharedBlock(ec))
	if plan != nil {
		fmt.Fprintf(&sb, "\n## Your plan\n%s\n", plan.Summary)
		for _, insight := range plan.Insights {
			fmt.Fprintf(&sb, "- insight: %s\n", insight)
		}
		for _, step := range plan.NextActions {
			fmt.Fprintf(&sb, "- %s\n", step)
		}
	}
	if critique != "" {
		fmt.Fprintf(&sb, "\n## Reviewer critique of your previous attempt\n%s\nAddress every point.\n", critique)
	}

	if tpl, ok := role.PromptTemplates[subStep]; ok {
		sb.WriteString("\n## Task\n")
		sb.WriteString(tpl)
		sb.WriteString("\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n## Task\nProduce the %q deliverable for this requirement as %s. Write well-structured Markdown.\n", subStep, role.Name)
	return sb.String()
}

func reflectPrompt(role *config.RoleSpec, content string) string {
	return fmt.Sprintf(`## Draft produced by %s
%s

## Task
Score the draft on each criterion, 0.0 to 1.0: %s.
Then give a short critique naming the weakest points.

Respond with JSON:
{"scores": {"completeness": 0.0, "accuracy": 0.0, "professionalism": 0.0, "clarity": 0.0, "actionability": 0.0, "innovation": 0.0}, "critique": "<text>"}
`, role.Name, content, strings.Join(RubricCriteria, ", "))
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
