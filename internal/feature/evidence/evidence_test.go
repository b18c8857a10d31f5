package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFeature(t *testing.T) *Feature {
	t.Helper()
	constructor := New(":memory:")
	feat, err := constructor(nil)
	require.NoError(t, err)
	f, ok := feat.(*Feature)
	require.True(t, ok)
	t.Cleanup(func() { _ = f.Cleanup(context.Background()) })
	return f
}

func TestRecordEvidenceRejectsMissingRequirementID(t *testing.T) {
	f := newTestFeature(t)
	handler, _ := f.Handler("recordEvidence")
	_, err := handler(context.Background(), map[string]any{"phase": "analysis"})
	require.Error(t, err)
}

func TestRecordEvidenceRejectsInvalidPhase(t *testing.T) {
	f := newTestFeature(t)
	handler, _ := f.Handler("recordEvidence")
	_, err := handler(context.Background(), map[string]any{"requirementId": "r1", "phase": "bogus"})
	require.Error(t, err)
}

func TestRecordEvidenceThenGetChainRoundTrips(t *testing.T) {
	f := newTestFeature(t)
	record, _ := f.Handler("recordEvidence")

	_, err := record(context.Background(), map[string]any{
		"requirementId": "r1",
		"description":   "users can log in",
		"phase":         "analysis",
		"agentId":       "agent-1",
		"taskId":        "task-1",
		"content":       "identified login flow",
	})
	require.NoError(t, err)

	result, err := record(context.Background(), map[string]any{
		"requirementId": "r1",
		"phase":         "implementation",
		"content":       "built login handler",
	})
	require.NoError(t, err)
	implPhaseID := result.(map[string]any)["phaseId"]

	_, err = record(context.Background(), map[string]any{
		"requirementId": "r1",
		"phase":         "validation",
		"content":       "added login test",
		"links": []any{
			map[string]any{"linkType": "verification", "targetPhaseId": float64(implPhaseID.(int64))},
		},
	})
	require.NoError(t, err)

	getChain, _ := f.Handler("getEvidenceChain")
	chainResult, err := getChain(context.Background(), map[string]any{"requirementId": "r1"})
	require.NoError(t, err)
	phases := chainResult.(map[string]any)["phases"].([]Phase)
	require.Len(t, phases, 3)

	getStatus, _ := f.Handler("getChainStatus")
	statusResult, err := getStatus(context.Background(), map[string]any{"requirementId": "r1"})
	require.NoError(t, err)
	status := statusResult.(ChainStatus)
	require.Equal(t, 3, status.PhasesPresent)
	require.InDelta(t, 100.0, status.CoveragePercent, 0.01)
	require.Equal(t, 1, status.VerificationLinks)
}

func TestGetChainStatusForUnknownRequirementReportsZeroCoverage(t *testing.T) {
	f := newTestFeature(t)
	getStatus, _ := f.Handler("getChainStatus")
	result, err := getStatus(context.Background(), map[string]any{"requirementId": "unknown"})
	require.NoError(t, err)
	status := result.(ChainStatus)
	require.Equal(t, 0, status.PhasesPresent)
	require.Equal(t, float64(0), status.CoveragePercent)
}
