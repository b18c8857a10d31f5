package assertions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/browrpc"
	"github.com/browserd/browserd/internal/feature"
)

func TestRecordAppendsToResults(t *testing.T) {
	f := &Feature{}
	f.Record(feature.AssertionResult{Name: "title-matches", Passed: true})
	f.Record(feature.AssertionResult{Name: "button-visible", Passed: false})

	results := f.Results()
	require.Len(t, results, 2)
	require.Equal(t, "title-matches", results[0].Name)
	require.False(t, results[1].Passed)
}

func TestRecordEvictsOldestBeyondCapacity(t *testing.T) {
	f := &Feature{}
	for i := 0; i < historyCapacity+10; i++ {
		f.Record(feature.AssertionResult{Name: "x"})
	}
	require.Len(t, f.Results(), historyCapacity)
}

func TestResultsReturnsACopy(t *testing.T) {
	f := &Feature{}
	f.Record(feature.AssertionResult{Name: "a"})

	r1 := f.Results()
	r1[0].Name = "mutated"

	r2 := f.Results()
	require.Equal(t, "a", r2[0].Name)
}

func TestHandleAssertRejectsEmptyName(t *testing.T) {
	f := &Feature{}
	handler, ok := f.Handler("assert")
	require.True(t, ok)

	_, err := handler(context.Background(), map[string]any{"passed": true})
	require.Error(t, err)
}

func TestHandleAssertRecordsResult(t *testing.T) {
	f := &Feature{}
	handler, ok := f.Handler("assert")
	require.True(t, ok)

	_, err := handler(context.Background(), map[string]any{
		"name":   "status-200",
		"passed": true,
	})
	require.NoError(t, err)
	require.Len(t, f.Results(), 1)
	require.Equal(t, "status-200", f.Results()[0].Name)
}

func TestHandleAssertReportsClientSuppliedFailureAsDataError(t *testing.T) {
	// A non-selector assertion still records whatever passed/expected/actual
	// the caller supplies (e.g. pre-evaluated against console/network data);
	// the server only computes passed itself when a selector is present.
	f := &Feature{}
	handler, ok := f.Handler("assert")
	require.True(t, ok)

	_, err := handler(context.Background(), map[string]any{
		"name":     "no-console-errors",
		"passed":   false,
		"expected": 0,
		"actual":   3,
	})
	require.Error(t, err)

	var dataErr *browrpc.DataError
	require.ErrorAs(t, err, &dataErr)
	require.Equal(t, browrpc.ErrHandlerDomain, dataErr.Code)
	data := dataErr.Data.(map[string]any)
	require.Equal(t, false, data["passed"])
	require.Equal(t, 0, data["expected"])
	require.Equal(t, 3, data["actual"])

	results := f.Results()
	require.Len(t, results, 1)
	require.False(t, results[0].Passed)
}

func TestHandleAssertWithSelectorRequiresAnActivePage(t *testing.T) {
	f := &Feature{}
	handler, ok := f.Handler("assert")
	require.True(t, ok)

	_, err := handler(context.Background(), map[string]any{
		"name":     "submit-visible",
		"selector": "#submit",
		"visible":  true,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no active page")
}

func TestSettersInstallCollaboratorsWithoutPanicking(t *testing.T) {
	f := &Feature{}
	require.NotPanics(t, func() {
		f.SetConsole(nil)
		f.SetNetwork(nil)
		f.SetSnapshotFeature(nil)
	})
}
