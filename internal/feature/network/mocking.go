package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/registry"
	"github.com/browserd/browserd/internal/ring"
)

// MockingName is the feature name network mocking is registered under.
const MockingName = "networkMocking"

const mockHistoryCapacity = 200

var mockingCommands = []string{
	"setupNetworkMocking", "createMock", "listMocks",
	"enableMock", "disableMock", "clearMocks",
}

// mockAction is one entry in the bounded mock-change history.
type mockAction struct {
	Action    string `json:"action"`
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}

func mockKey(method, url string) string {
	return strings.ToUpper(method) + ":" + url
}

// MockingFeature keeps the keyed mock registry and fulfills hijacked
// requests from go-rod's request router when a mock is enabled.
type MockingFeature struct {
	page *rod.Page

	mu      sync.Mutex
	mocks   map[string]feature.MockEntry
	history *ring.Buffer[mockAction]

	router *rod.HijackRouter
}

// NewMocking constructs the network-mocking feature. Matches
// registry.Constructor.
func NewMocking(page *rod.Page) (registry.Feature, error) {
	return &MockingFeature{
		page:    page,
		mocks:   make(map[string]feature.MockEntry),
		history: ring.New[mockAction](mockHistoryCapacity),
	}, nil
}

// Cleanup stops the hijack router if one was started. Matches
// registry.Cleanupable.
func (f *MockingFeature) Cleanup(ctx context.Context) error {
	f.mu.Lock()
	router := f.router
	f.mu.Unlock()
	if router != nil {
		return router.Stop()
	}
	return nil
}

// Commands satisfies registry.Feature.
func (f *MockingFeature) Commands() []string { return mockingCommands }

// Handler satisfies registry.Feature.
func (f *MockingFeature) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "setupNetworkMocking":
		return f.handleSetup, true
	case "createMock":
		return f.handleCreateMock, true
	case "listMocks":
		return f.handleListMocks, true
	case "enableMock":
		return f.handleEnableMock(true), true
	case "disableMock":
		return f.handleEnableMock(false), true
	case "clearMocks":
		return f.handleClearMocks, true
	default:
		return nil, false
	}
}

func (f *MockingFeature) handleSetup(ctx context.Context, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.router == nil {
		f.router = f.page.HijackRequests()
		f.router.MustAdd("*", f.fulfillIfMocked)
		go f.router.Run()
	}
	return map[string]any{"enabled": true}, nil
}

func (f *MockingFeature) fulfillIfMocked(h *rod.Hijack) {
	key := mockKey(h.Request.Method(), h.Request.URL().String())
	f.mu.Lock()
	mock, ok := f.mocks[key]
	f.mu.Unlock()
	if !ok || !mock.Enabled {
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}
	body, err := json.Marshal(mock.Body)
	if err != nil {
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}
	h.Response.SetHeader("Content-Type", "application/json")
	h.Response.SetBody(string(body))
	h.Response.SetStatus(mock.Status)
}

func (f *MockingFeature) handleCreateMock(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	url, _ := args["url"].(string)
	if method == "" || url == "" {
		return nil, fmt.Errorf("createMock requires method and url")
	}
	status := 200
	if raw, ok := args["status"].(float64); ok {
		status = int(raw)
	}
	schema, _ := args["schema"].(string)

	key := mockKey(method, url)
	action := "create"

	f.mu.Lock()
	if _, exists := f.mocks[key]; exists {
		action = "overwrite"
	}
	f.mocks[key] = feature.MockEntry{
		Method:    strings.ToUpper(method),
		URL:       url,
		Status:    status,
		Body:      args["body"],
		Schema:    schema,
		Enabled:   true,
		CreatedAt: time.Now().UnixMilli(),
	}
	f.recordHistoryLocked(action, key)
	overwrote := action == "overwrite"
	f.mu.Unlock()

	return map[string]any{"key": key, "overwrote": overwrote}, nil
}

func (f *MockingFeature) handleListMocks(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"mocks": f.Mocks()}, nil
}

func (f *MockingFeature) handleEnableMock(enabled bool) registry.Handler {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return func(ctx context.Context, args map[string]any) (any, error) {
		key, _ := args["key"].(string)
		f.mu.Lock()
		defer f.mu.Unlock()
		mock, ok := f.mocks[key]
		if !ok {
			return nil, fmt.Errorf("no mock registered for key %q", key)
		}
		mock.Enabled = enabled
		f.mocks[key] = mock
		f.recordHistoryLocked(action, key)
		return map[string]any{"key": key, "enabled": enabled}, nil
	}
}

func (f *MockingFeature) handleClearMocks(ctx context.Context, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mocks = make(map[string]feature.MockEntry)
	f.recordHistoryLocked("clear", "")
	return map[string]any{"cleared": true}, nil
}

func (f *MockingFeature) recordHistoryLocked(action, key string) {
	f.history.Push(mockAction{Action: action, Key: key, Timestamp: time.Now().UnixMilli()})
}

// Mocks satisfies feature.NetworkMocking.
func (f *MockingFeature) Mocks() []feature.MockEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]feature.MockEntry, 0, len(f.mocks))
	for _, m := range f.mocks {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Lookup satisfies feature.NetworkMocking.
func (f *MockingFeature) Lookup(method, url string) (feature.MockEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mocks[mockKey(method, url)]
	return m, ok
}
