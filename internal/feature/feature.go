// Package feature declares the collaborator contracts concrete feature
// implementations satisfy in addition to registry.Feature: ConsoleCapture,
// Snapshot, Assertions, NetworkCapture, NetworkMocking, and Plugins. These
// are interfaces only — every concrete type lives in its own subpackage
// (internal/feature/console, internal/feature/snapshot, ...) and is wired
// together through registry.WireEdge rather than a setter-injection cycle
// back to this package.
package feature

import "context"

// ConsoleMessage is one captured console.* call.
type ConsoleMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ConsoleCapture is implemented by the console feature.
type ConsoleCapture interface {
	GetRecentConsole(n int) []any
	GetAllMessages() []ConsoleMessage
	DiscardedNotable() int
}

// RefData describes one accessibility-tree node captured by the most
// recent snapshot, addressable by its ref for later commands (click,
// type, ...) that target it.
type RefData struct {
	Ref      string `json:"ref"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Selector string `json:"selector,omitempty"`
}

// Snapshot is implemented by the snapshot feature.
type Snapshot interface {
	Capture(ctx context.Context) (string, error)
	GetRefMap() map[string]RefData
}

// AssertionResult is one recorded assertion outcome.
type AssertionResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Expected  any    `json:"expected"`
	Actual    any    `json:"actual"`
	Selector  string `json:"selector,omitempty"`
	Timestamp int64  `json:"timestamp"`
	DurationMS int64 `json:"durationMs"`
}

// Assertions is implemented by the assertions feature. SetConsole,
// SetNetwork, and SetSnapshotFeature are called by the registry's
// WireEdge wiring rather than being invoked directly by other features.
type Assertions interface {
	Record(result AssertionResult)
	Results() []AssertionResult
	SetConsole(c ConsoleCapture)
	SetNetwork(n NetworkCapture)
	SetSnapshotFeature(s Snapshot)
}

// NetworkEntry is one completed request/response pair.
type NetworkEntry struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"durationMs"`
	Timestamp  int64  `json:"timestamp"`
}

// NetworkCapture is implemented by the network-capture feature.
type NetworkCapture interface {
	RecentEntries(n int) []NetworkEntry
	PendingCount() int
}

// MockEntry is one registered network mock.
type MockEntry struct {
	Method    string `json:"method"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Body      any    `json:"body"`
	Schema    string `json:"schema,omitempty"`
	Enabled   bool   `json:"enabled"`
	CreatedAt int64  `json:"createdAt"`
}

// NetworkMocking is implemented by the network-mocking feature.
type NetworkMocking interface {
	Mocks() []MockEntry
	Lookup(method, url string) (MockEntry, bool)
}

// Plugins is implemented by the plugins feature; it is consumed by
// internal/dispatch as dispatch.PluginHooks and is declared here too so
// other features can depend on it through the same WireEdge mechanism.
type Plugins interface {
	BeforeCommand(ctx context.Context, cmd string, args map[string]any) (skip bool, reason string)
	AfterCommand(ctx context.Context, cmd string, args map[string]any, result any)
	OnError(ctx context.Context, cmd string, args map[string]any, err error)
	OnNavigate(url string)
	OnSnapshot(snapshot string)
}
