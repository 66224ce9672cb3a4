package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func snapshotWith(base float64, overrides map[string]float64) *QualitySnapshot {
	dims := make(map[string]DimensionScore, len(QualityDimensions))
	for _, dim := range QualityDimensions {
		score := base
		if v, ok := overrides[dim]; ok {
			score = v
		}
		dims[dim] = DimensionScore{Score: score}
	}
	return &QualitySnapshot{Dimensions: dims}
}

func TestEvaluateGateBoundaryInclusive(t *testing.T) {
	// Overall exactly 0.8 with criticals exactly 0.7 must pass.
	q := snapshotWith(0.86, map[string]float64{
		DimFunctional:         0.7,
		DimAcceptanceCriteria: 0.7,
		DimUserRoles:          0.7,
	})
	q.EvaluateGate(nil)
	assert.InDelta(t, 0.8, q.Overall, 1e-9)
	assert.True(t, q.GatePassed)
}

func TestEvaluateGateCriticalFloorBlocks(t *testing.T) {
	// High overall, but one critical dimension just below its floor.
	q := snapshotWith(0.95, map[string]float64{DimUserRoles: 0.69})
	q.EvaluateGate(nil)
	assert.Greater(t, q.Overall, 0.8)
	assert.False(t, q.GatePassed)
}

func TestEvaluateGateOverallBelowFloor(t *testing.T) {
	q := snapshotWith(0.79, nil)
	q.EvaluateGate(nil)
	assert.False(t, q.GatePassed)
}

func TestEvaluateGateWeighted(t *testing.T) {
	q := snapshotWith(0.6, map[string]float64{DimFunctional: 1.0})
	// Weighting functional 9x against seven 1x dimensions:
	// (9*1.0 + 7*0.6) / 16 = 0.825.
	q.EvaluateGate(map[string]float64{DimFunctional: 9})
	assert.InDelta(t, 0.825, q.Overall, 1e-9)
	assert.False(t, q.GatePassed) // acceptance_criteria and user_roles at 0.6
}
