// Package assertions implements the assertions feature: records every
// assertion a client makes into an append-only list. It holds the
// console/network/snapshot collaborators once they are wired; no handler
// reads them. The dependency wiring happens through registry.WireEdge (see
// internal/manager), not through direct setter calls from other features.
package assertions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/browserd/browserd/internal/browrpc"
	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/registry"
)

// Name is the feature name assertions is registered under.
const Name = "assertions"

const historyCapacity = 1000

var commands = []string{"assert", "getAssertionResults"}

// Feature records assertion outcomes. Recorded results carry only the
// name, outcome, expected/actual values, selector and timing; no
// console/network context is attached to them.
type Feature struct {
	page *rod.Page

	mu      sync.Mutex
	results []feature.AssertionResult

	console  feature.ConsoleCapture
	network  feature.NetworkCapture
	snapshot feature.Snapshot
}

// New constructs the assertions feature. Matches registry.Constructor. page
// backs selector-based assertions (existence/visibility checks); assertions
// that instead compare collaborator-supplied values never touch it.
func New(page *rod.Page) (registry.Feature, error) {
	return &Feature{page: page}, nil
}

// Commands satisfies registry.Feature.
func (f *Feature) Commands() []string { return commands }

// Handler satisfies registry.Feature.
func (f *Feature) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "assert":
		return f.handleAssert, true
	case "getAssertionResults":
		return f.handleGetResults, true
	default:
		return nil, false
	}
}

// handleAssert evaluates the assertion server-side rather than trusting a
// client-supplied passed flag. When selector is present, it checks
// existence (and, if visible is requested, visibility) against the live
// page; otherwise it records a collaborator-supplied expected/actual pair
// verbatim (e.g. an assertion already evaluated against console/network
// data the caller read through getRecentConsole/getNetworkRequests).
func (f *Feature) handleAssert(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("assert requires a non-empty name")
	}
	selector, _ := args["selector"].(string)
	start := time.Now()

	var passed bool
	var expected, actual any

	if selector != "" {
		wantVisible, _ := args["visible"].(bool)
		present, visible, err := f.checkSelector(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("assert %q: %w", name, err)
		}
		expected = "present"
		if wantVisible {
			expected = "visible"
		}
		switch {
		case !present:
			actual = "absent"
		case !visible:
			actual = "hidden"
		default:
			actual = "visible"
		}
		passed = present && (!wantVisible || visible)
	} else {
		passed, _ = args["passed"].(bool)
		expected = args["expected"]
		actual = args["actual"]
	}

	result := feature.AssertionResult{
		Name:       name,
		Passed:     passed,
		Expected:   expected,
		Actual:     actual,
		Selector:   selector,
		Timestamp:  start.UnixMilli(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	f.Record(result)

	data := map[string]any{
		"passed":     passed,
		"expected":   expected,
		"actual":     actual,
		"name":       name,
		"durationMs": result.DurationMS,
	}
	if !passed {
		return nil, &browrpc.DataError{
			Code:    browrpc.ErrHandlerDomain,
			Message: fmt.Sprintf("assertion %q failed: expected %v, got %v", name, expected, actual),
			Data:    data,
		}
	}
	return data, nil
}

// checkSelector reports whether selector matches an element on the live
// page and, if so, whether that element is visible. Returns an error if no
// page is attached (the browser has not been started yet).
func (f *Feature) checkSelector(ctx context.Context, selector string) (present, visible bool, err error) {
	if f.page == nil {
		return false, false, errors.New("no active page")
	}
	has, el, err := f.page.Context(ctx).Has(selector)
	if err != nil {
		return false, false, fmt.Errorf("query selector %q: %w", selector, err)
	}
	if !has {
		return false, false, nil
	}
	visible, err = el.Visible()
	if err != nil {
		return true, false, fmt.Errorf("check visibility of %q: %w", selector, err)
	}
	return true, visible, nil
}

func (f *Feature) handleGetResults(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"results": f.Results()}, nil
}

// Record appends result to the append-only history, evicting the oldest
// entry once historyCapacity is exceeded. Matches feature.Assertions.
func (f *Feature) Record(result feature.AssertionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	if len(f.results) > historyCapacity {
		f.results = f.results[len(f.results)-historyCapacity:]
	}
}

// Results satisfies feature.Assertions.
func (f *Feature) Results() []feature.AssertionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]feature.AssertionResult, len(f.results))
	copy(out, f.results)
	return out
}

// SetConsole satisfies feature.Assertions; called by a WireEdge once the
// console feature is loaded.
func (f *Feature) SetConsole(c feature.ConsoleCapture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.console = c
}

// SetNetwork satisfies feature.Assertions; called by a WireEdge once the
// network-capture feature is loaded.
func (f *Feature) SetNetwork(n feature.NetworkCapture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.network = n
}

// SetSnapshotFeature satisfies feature.Assertions; called by a WireEdge
// once the snapshot feature is loaded.
func (f *Feature) SetSnapshotFeature(s feature.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
}
