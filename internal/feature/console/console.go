// Package console implements the console-capture feature: a core feature
// that hooks the page's console API events on Setup and serves the most
// recent messages through the ring buffer, counting discarded errors and
// warnings separately so overflow is visible rather than silent.
package console

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/registry"
	"github.com/browserd/browserd/internal/ring"
	"github.com/browserd/browserd/internal/util"
)

const (
	// Name is the feature name console is registered under.
	Name        = "console"
	capacity    = 500
	minCapacity = 10
	maxCapacity = 1000
)

var commands = []string{"getRecentConsole", "getAllConsoleMessages"}

// Feature captures browser console output for the lifetime of one page.
type Feature struct {
	page   *rod.Page
	buf    *ring.CountingBuffer[feature.ConsoleMessage]
	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs the console feature. Matches registry.Constructor.
func New(page *rod.Page) (registry.Feature, error) {
	f := &Feature{page: page}
	f.buf = ring.NewCounting(capacity, isErrorOrWarning)
	return f, nil
}

func isErrorOrWarning(m feature.ConsoleMessage) bool {
	return m.Type == string(proto.RuntimeConsoleAPICalledTypeError) ||
		m.Type == string(proto.RuntimeConsoleAPICalledTypeWarning)
}

// Setup starts the background console-event listener. Matches
// registry.Setupable.
func (f *Feature) Setup(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	util.SafeGo(func() {
		wait := f.page.Context(ctx).EachEvent(func(ev *proto.RuntimeConsoleAPICalled) {
			f.push(string(ev.Type), stringifyArgs(ev.Args))
		})
		wait()
	})
	return nil
}

// Cleanup stops the listener. Matches registry.Cleanupable.
func (f *Feature) Cleanup(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

func (f *Feature) push(kind, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf.Push(feature.ConsoleMessage{
		Type:      kind,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Commands satisfies registry.Feature.
func (f *Feature) Commands() []string { return commands }

// Handler satisfies registry.Feature.
func (f *Feature) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "getRecentConsole":
		return f.handleGetRecent, true
	case "getAllConsoleMessages":
		return f.handleGetAll, true
	default:
		return nil, false
	}
}

func (f *Feature) handleGetRecent(ctx context.Context, args map[string]any) (any, error) {
	n := 20
	if raw, ok := args["count"]; ok {
		if fv, ok := raw.(float64); ok && fv > 0 {
			n = int(fv)
		}
	}
	return map[string]any{"messages": f.GetRecentConsole(n)}, nil
}

func (f *Feature) handleGetAll(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"messages":         f.GetAllMessages(),
		"discardedNotable": f.DiscardedNotable(),
	}, nil
}

// GetRecentConsole satisfies feature.ConsoleCapture and
// internal/dispatch.ConsoleSource.
func (f *Feature) GetRecentConsole(n int) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.buf.Buffer().Slice(n)
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out
}

// GetAllMessages satisfies feature.ConsoleCapture.
func (f *Feature) GetAllMessages() []feature.ConsoleMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Buffer().ToArray()
}

// DiscardedNotable satisfies feature.ConsoleCapture.
func (f *Feature) DiscardedNotable() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.DiscardedNotable()
}

// SetCapacity resizes the console ring buffer, clamping into [minCapacity,
// maxCapacity] and preserving the newest retained messages. Consumed by
// the core-actions feature's setConsoleBufferCapacity command through the
// registry.Bus lookup rather than a direct reference.
func (f *Feature) SetCapacity(n int) int {
	if n < minCapacity {
		n = minCapacity
	}
	if n > maxCapacity {
		n = maxCapacity
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf.Buffer().SetCapacity(n)
	return n
}

func stringifyArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if a.Value.Nil() {
			parts = append(parts, a.Description)
			continue
		}
		parts = append(parts, a.Value.Str())
	}
	return strings.Join(parts, " ")
}
