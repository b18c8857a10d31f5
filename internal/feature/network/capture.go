// Package network implements the network-capture and network-mocking
// lazy features. Capture maintains a pending-request map (method and url
// per entry) keyed by CDP request ID for O(1) response matching; a
// background sweep every 30
// seconds drops pending entries older than 60 seconds so a request whose
// response never arrives does not leak forever. Mocking keeps a keyed
// mock registry consulted by a go-rod hijack router.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/registry"
	"github.com/browserd/browserd/internal/ring"
	"github.com/browserd/browserd/internal/state"
	"github.com/browserd/browserd/internal/util"
)

// CaptureName is the feature name network capture is registered under.
const CaptureName = "networkCapture"

const (
	captureCapacity = 500
	staleAfter      = 60 * time.Second
	sweepInterval   = 30 * time.Second
)

var captureCommands = []string{"setupNetworkCapture", "getNetworkRequests", "exportHAR"}

type pendingRequest struct {
	method    string
	url       string
	startedAt time.Time
}

// pendingKey is a CDP request ID. Request/response pairing in practice
// keys off the ID rather than a literal "method url" string so two
// concurrent identical requests never collide in the pending map — the
// map still represents "{method, url} in flight" exactly as the
// {method, url} pending model describes, just addressed by the ID CDP
// already gives us for O(1) lookup.
type pendingKey = proto.NetworkRequestID

// CaptureFeature tracks in-flight and completed network requests.
type CaptureFeature struct {
	page       *rod.Page
	instanceID string

	mu      sync.Mutex
	pending map[pendingKey]pendingRequest
	entries *ring.Buffer[feature.NetworkEntry]

	cancel context.CancelFunc
}

// NewCapture returns a registry.Constructor for the network-capture
// feature scoped to instanceID, whose HAR exports land under that
// instance's har-exports directory. Mirrors the evidence feature's
// dbPath-closure constructor shape, since this feature likewise needs a
// per-instance filesystem path the registry.Constructor signature has no
// room for.
func NewCapture(instanceID string) registry.Constructor {
	return func(page *rod.Page) (registry.Feature, error) {
		return &CaptureFeature{
			page:       page,
			instanceID: instanceID,
			pending:    make(map[pendingKey]pendingRequest),
			entries:    ring.New[feature.NetworkEntry](captureCapacity),
		}, nil
	}
}

// Setup starts the request/response listener and the stale-pending sweep.
// Matches registry.Setupable.
func (f *CaptureFeature) Setup(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	util.SafeGo(func() {
		wait := f.page.Context(ctx).EachEvent(
			func(ev *proto.NetworkRequestWillBeSent) {
				f.trackRequest(ev.RequestID, ev.Request.Method, ev.Request.URL)
			},
			func(ev *proto.NetworkResponseReceived) {
				f.recordResponse(ev.RequestID, ev.Response.Status)
			},
		)
		wait()
	})
	util.SafeGo(func() { f.sweepLoop(ctx) })
	return nil
}

// Cleanup stops the listener and sweep loop. Matches registry.Cleanupable.
func (f *CaptureFeature) Cleanup(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

func (f *CaptureFeature) trackRequest(id proto.NetworkRequestID, method, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[id] = pendingRequest{method: method, url: url, startedAt: time.Now()}
}

func (f *CaptureFeature) recordResponse(id proto.NetworkRequestID, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.pending[id]
	if !ok {
		// A response for a request we never saw go pending (e.g. served
		// from the disk cache without a fresh request event): still
		// record it, just without a duration.
		f.entries.Push(feature.NetworkEntry{Status: status, Timestamp: time.Now().UnixMilli()})
		return
	}
	delete(f.pending, id)
	f.entries.Push(feature.NetworkEntry{
		Method:     req.method,
		URL:        req.url,
		Status:     status,
		DurationMS: time.Since(req.startedAt).Milliseconds(),
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (f *CaptureFeature) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.sweepStalePending()
		}
	}
}

func (f *CaptureFeature) sweepStalePending() {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	for key, req := range f.pending {
		if req.startedAt.Before(cutoff) {
			delete(f.pending, key)
		}
	}
}

// Commands satisfies registry.Feature.
func (f *CaptureFeature) Commands() []string { return captureCommands }

// Handler satisfies registry.Feature.
func (f *CaptureFeature) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "setupNetworkCapture":
		return f.handleSetup, true
	case "getNetworkRequests":
		return f.handleGetRequests, true
	case "exportHAR":
		return f.handleExportHAR, true
	default:
		return nil, false
	}
}

func (f *CaptureFeature) handleSetup(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"enabled": true}, nil
}

func (f *CaptureFeature) handleGetRequests(ctx context.Context, args map[string]any) (any, error) {
	n := 50
	if raw, ok := args["count"]; ok {
		if fv, ok := raw.(float64); ok && fv > 0 {
			n = int(fv)
		}
	}
	return map[string]any{
		"requests": f.RecentEntries(n),
		"pending":  f.PendingCount(),
	}, nil
}

// RecentEntries satisfies feature.NetworkCapture.
func (f *CaptureFeature) RecentEntries(n int) []feature.NetworkEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries.Slice(n)
}

// PendingCount satisfies feature.NetworkCapture.
func (f *CaptureFeature) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// harLog is a minimal HAR 1.2 document: enough structure for a consumer
// expecting the standard format, not a byte-for-byte faithful exporter —
// the individual-feature serialization details spec.md treats as
// peripheral.
type harLog struct {
	Log struct {
		Version string     `json:"version"`
		Creator harCreator `json:"creator"`
		Entries []harEntry `json:"entries"`
	} `json:"log"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harEntry struct {
	StartedDateTime string `json:"startedDateTime"`
	Time            int64  `json:"time"`
	Request         struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
	Response struct {
		Status int `json:"status"`
	} `json:"response"`
}

func (f *CaptureFeature) handleExportHAR(ctx context.Context, args map[string]any) (any, error) {
	dir, err := state.HARExportsDir(f.instanceID)
	if err != nil {
		return nil, fmt.Errorf("resolve har-exports directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create har-exports directory: %w", err)
	}

	var doc harLog
	doc.Log.Version = "1.2"
	doc.Log.Creator = harCreator{Name: "browserd", Version: "1"}
	for _, e := range f.RecentEntries(captureCapacity) {
		var entry harEntry
		entry.StartedDateTime = time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339Nano)
		entry.Time = e.DurationMS
		entry.Request.Method = e.Method
		entry.Request.URL = e.URL
		entry.Response.Status = e.Status
		doc.Log.Entries = append(doc.Log.Entries, entry)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal har document: %w", err)
	}

	name := uuid.NewString() + ".har"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write har export: %w", err)
	}

	return map[string]any{"path": path, "entries": len(doc.Log.Entries)}, nil
}
