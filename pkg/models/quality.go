package models

// Quality dimensions evaluated on every clarification turn. The three
// critical dimensions additionally carry their own gate floor.
const (
	DimFunctional         = "functional"
	DimNonFunctional      = "non_functional"
	DimUserRoles          = "user_roles"
	DimBusinessRules      = "business_rules"
	DimConstraints        = "constraints"
	DimAcceptanceCriteria = "acceptance_criteria"
	DimIntegration        = "integration"
	DimData               = "data"
)

// QualityDimensions lists all eight dimensions in canonical order.
var QualityDimensions = []string{
	DimFunctional,
	DimNonFunctional,
	DimUserRoles,
	DimBusinessRules,
	DimConstraints,
	DimAcceptanceCriteria,
	DimIntegration,
	DimData,
}

// CriticalDimensions must each clear the critical floor for the gate to pass.
var CriticalDimensions = []string{DimFunctional, DimAcceptanceCriteria, DimUserRoles}

// DimensionScore is the per-dimension result of a quality evaluation.
type DimensionScore struct {
	Score        float64  `json:"score"`
	Deficiencies []string `json:"deficiencies,omitempty"`
}

// QualitySnapshot is the immutable result of one clarification-turn quality
// evaluation across the eight dimensions.
type QualitySnapshot struct {
	Dimensions map[string]DimensionScore `json:"dimensions"`
	Overall    float64                   `json:"overall"`
	GatePassed bool                      `json:"gate_passed"`
}

// Gate thresholds. The boundary is inclusive: overall of exactly
// GateOverallFloor with critical dimensions at GateCriticalFloor passes.
const (
	GateOverallFloor  = 0.8
	GateCriticalFloor = 0.7
	// GateExhaustedFloor is the minimum overall to still promote when the
	// round budget is exhausted; below it the session fails.
	GateExhaustedFloor = 0.6
)

// EvaluateGate computes Overall (weighted mean; equal weights when weights is
// nil or missing a dimension) and GatePassed in place.
func (q *QualitySnapshot) EvaluateGate(weights map[string]float64) {
	var sum, wsum float64
	for _, dim := range QualityDimensions {
		w := 1.0
		if weights != nil {
			if ww, ok := weights[dim]; ok {
				w = ww
			}
		}
		sum += q.Dimensions[dim].Score * w
		wsum += w
	}
	if wsum > 0 {
		q.Overall = sum / wsum
	}

	q.GatePassed = q.Overall >= GateOverallFloor
	for _, dim := range CriticalDimensions {
		if q.Dimensions[dim].Score < GateCriticalFloor {
			q.GatePassed = false
		}
	}
}
