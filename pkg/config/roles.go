package config

// RoleSpec declares an agent role. The runtime is a single executor
// parameterized by a RoleSpec — adding a role is a data change.
type RoleSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// SubSteps are executed in declaration order by the Act step. Sub-steps
	// listed in Parallelizable may be scheduled as sibling tasks instead.
	SubSteps []string `yaml:"sub_steps"`
	// PromptTemplates maps step name → template text. Missing entries fall
	// back to the generic template for the step kind.
	PromptTemplates map[string]string `yaml:"prompt_templates"`
	// QualityWeights weight the Reflect rubric criteria. Nil means equal.
	QualityWeights map[string]float64 `yaml:"quality_weights"`
	// Threshold is the Reflect overall score required to commit a cycle.
	Threshold float64 `yaml:"threshold"`
}

// Well-known role IDs. The flow orchestrator dispatches phases to these.
const (
	RoleClarifier = "clarifier"
	RoleAnalyst   = "analyst"
	RoleWriter    = "writer"
	RoleReviewer  = "reviewer"
)

// Analyst sub-steps; each becomes its own schedulable task in the analyze
// phase so independent ones can run in parallel.
const (
	SubStepBusinessProcess = "business_process"
	SubStepBusinessRules   = "business_rules"
	SubStepValue           = "value"
	SubStepRisk            = "risk"
)

// BuiltinRoles returns the default role registry.
func BuiltinRoles() map[string]*RoleSpec {
	return map[string]*RoleSpec{
		RoleClarifier: {
			ID:        RoleClarifier,
			Name:      "Requirements Clarifier",
			SubSteps:  []string{"assess", "question"},
			Threshold: 0.7,
		},
		RoleAnalyst: {
			ID:   RoleAnalyst,
			Name: "Business Analyst",
			SubSteps: []string{
				SubStepBusinessProcess,
				SubStepBusinessRules,
				SubStepValue,
				SubStepRisk,
			},
			Threshold: 0.7,
		},
		RoleWriter: {
			ID:        RoleWriter,
			Name:      "Specification Writer",
			SubSteps:  []string{"draft", "assemble"},
			Threshold: 0.7,
		},
		RoleReviewer: {
			ID:        RoleReviewer,
			Name:      "Specification Reviewer",
			SubSteps:  []string{"review"},
			Threshold: 0.7,
		},
	}
}

// Role returns the spec for id, or nil if unknown.
func (c *Config) Role(id string) *RoleSpec {
	return c.Roles[id]
}
