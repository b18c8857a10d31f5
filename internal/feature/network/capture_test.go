package network

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/ring"
	"github.com/browserd/browserd/internal/state"
)

func newTestCapture() *CaptureFeature {
	return &CaptureFeature{
		instanceID: "default",
		pending:    make(map[pendingKey]pendingRequest),
		entries:    ring.New[feature.NetworkEntry](captureCapacity),
	}
}

func TestCommandsListsCaptureHandlers(t *testing.T) {
	f := newTestCapture()
	require.ElementsMatch(t, []string{"setupNetworkCapture", "getNetworkRequests", "exportHAR"}, f.Commands())
}

func TestHandleExportHARWritesValidDocument(t *testing.T) {
	t.Setenv(state.BaseDirEnv, t.TempDir())
	f := newTestCapture()
	f.recordResponse(proto.NetworkRequestID("unseen"), 200)

	result, err := f.handleExportHAR(context.Background(), nil)
	require.NoError(t, err)

	path := result.(map[string]any)["path"].(string)
	require.Equal(t, ".har", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc harLog
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "1.2", doc.Log.Version)
	require.Len(t, doc.Log.Entries, 1)
}

func TestTrackRequestThenRecordResponseMovesFromPendingToEntries(t *testing.T) {
	f := newTestCapture()
	id := proto.NetworkRequestID("req-1")

	f.trackRequest(id, "GET", "https://example.com/a")
	require.Equal(t, 1, f.PendingCount())

	f.recordResponse(id, 200)
	require.Equal(t, 0, f.PendingCount())

	entries := f.RecentEntries(10)
	require.Len(t, entries, 1)
	require.Equal(t, "GET", entries[0].Method)
	require.Equal(t, 200, entries[0].Status)
}

func TestRecordResponseWithoutPriorRequestStillRecordsEntry(t *testing.T) {
	f := newTestCapture()
	f.recordResponse(proto.NetworkRequestID("unseen"), 304)

	entries := f.RecentEntries(10)
	require.Len(t, entries, 1)
	require.Equal(t, 304, entries[0].Status)
}

func TestSweepStalePendingDropsOldEntriesOnly(t *testing.T) {
	f := newTestCapture()
	f.pending["old"] = pendingRequest{method: "GET", url: "https://example.com/old", startedAt: time.Now().Add(-2 * staleAfter)}
	f.pending["fresh"] = pendingRequest{method: "GET", url: "https://example.com/fresh", startedAt: time.Now()}

	f.sweepStalePending()

	require.Equal(t, 1, f.PendingCount())
	_, stillPending := f.pending["fresh"]
	require.True(t, stillPending)
}
