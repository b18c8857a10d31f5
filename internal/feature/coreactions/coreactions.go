// Package coreactions implements the core-actions feature: the
// navigate/click/dblclick/type/evaluate/hover/drag/tabs command family
// plus the saveBrowserState/restoreBrowserState/listBrowserStates,
// setConsoleBufferCapacity, and waitForEvent commands that act on the live
// page rather than recording client-supplied values. It is a core
// feature — constructed unconditionally once a page exists, per spec.md
// §4.4 — because every one of its commands needs the page from the first
// moment a client can issue them.
//
// Grounded on theRebelliousNerd-codenerd's internal/browser/session_manager.go
// for the go-rod Click/Type/Navigate shape (element lookup, then the
// matching Element method, wrapped with a descriptive error).
package coreactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/feature/console"
	"github.com/browserd/browserd/internal/feature/network"
	"github.com/browserd/browserd/internal/feature/snapshot"
	"github.com/browserd/browserd/internal/lifecycle"
	"github.com/browserd/browserd/internal/registry"
)

// Name is the feature name core actions is registered under.
const Name = "coreActions"

var commands = []string{
	"navigate", "click", "dblclick", "type", "evaluate", "hover", "drag", "tabs",
	"saveBrowserState", "restoreBrowserState", "listBrowserStates",
	"setConsoleBufferCapacity", "waitForEvent",
}

const (
	defaultWaitTimeout  = 30 * time.Second
	waitPollInterval    = 100 * time.Millisecond
	networkScanDepth    = 100
	navigateSettleWait  = 2 * time.Second
)

// Lifecycle is the subset of *lifecycle.Lifecycle core actions needs.
// Handlers re-read Page()/Context() on every call rather than caching
// them, per spec.md §5's shared-resource policy: only Lifecycle may
// replace the page or context, and every feature must re-fetch after a
// re-initialization signal such as a tab switch.
type Lifecycle interface {
	Page() *rod.Page
	Context() *rod.Browser
	SetPage(page *rod.Page, url string)
}

// consoleCapacitySetter is implemented by the console feature; looked up
// through the registry.Bus rather than constructor-wired, since console
// and core actions are independent core features.
type consoleCapacitySetter interface {
	SetCapacity(n int) int
}

// Feature implements the core-actions command family.
type Feature struct {
	instanceID string
	lc         Lifecycle
	bus        registry.Bus

	mu      sync.Mutex
	plugins feature.Plugins
}

// New returns a registry.Constructor closed over instanceID (for the
// saveBrowserState/restoreBrowserState/listBrowserStates filesystem
// paths) and the lifecycle and bus handles the plain registry.Constructor
// signature has no room for, mirroring network.NewCapture's closure
// shape.
func New(instanceID string, lc Lifecycle, bus registry.Bus) registry.Constructor {
	return func(page *rod.Page) (registry.Feature, error) {
		return &Feature{instanceID: instanceID, lc: lc, bus: bus}, nil
	}
}

// Commands satisfies registry.Feature.
func (f *Feature) Commands() []string { return commands }

// Handler satisfies registry.Feature.
func (f *Feature) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "navigate":
		return f.handleNavigate, true
	case "click":
		return f.handleClick, true
	case "dblclick":
		return f.handleDblclick, true
	case "type":
		return f.handleType, true
	case "evaluate":
		return f.handleEvaluate, true
	case "hover":
		return f.handleHover, true
	case "drag":
		return f.handleDrag, true
	case "tabs":
		return f.handleTabs, true
	case "saveBrowserState":
		return f.handleSaveBrowserState, true
	case "restoreBrowserState":
		return f.handleRestoreBrowserState, true
	case "listBrowserStates":
		return f.handleListBrowserStates, true
	case "setConsoleBufferCapacity":
		return f.handleSetConsoleBufferCapacity, true
	case "waitForEvent":
		return f.handleWaitForEvent, true
	default:
		return nil, false
	}
}

// SetPlugins satisfies the WireEdge consumer side of the "core actions ←
// plugins" wiring in spec.md §4.4: navigate fires the plugins feature's
// OnNavigate hook once it is loaded.
func (f *Feature) SetPlugins(p feature.Plugins) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugins = p
}

func (f *Feature) pluginsHook() feature.Plugins {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plugins
}

func (f *Feature) handleNavigate(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("navigate requires a non-empty url")
	}
	page := f.lc.Page()
	if page == nil {
		return nil, errors.New("no active page")
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate to %q: %w", url, err)
	}
	_ = page.WaitDOMStable(navigateSettleWait, 0)
	f.lc.SetPage(page, url)
	if hooks := f.pluginsHook(); hooks != nil {
		hooks.OnNavigate(url)
	}
	return map[string]any{"url": url}, nil
}

func (f *Feature) handleClick(ctx context.Context, args map[string]any) (any, error) {
	return f.withElement(ctx, args, func(el *rod.Element) (any, error) {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, fmt.Errorf("click: %w", err)
		}
		return map[string]any{"clicked": true}, nil
	})
}

func (f *Feature) handleDblclick(ctx context.Context, args map[string]any) (any, error) {
	return f.withElement(ctx, args, func(el *rod.Element) (any, error) {
		if err := el.Click(proto.InputMouseButtonLeft, 2); err != nil {
			return nil, fmt.Errorf("dblclick: %w", err)
		}
		return map[string]any{"clicked": true}, nil
	})
}

func (f *Feature) handleType(ctx context.Context, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	return f.withElement(ctx, args, func(el *rod.Element) (any, error) {
		if err := el.Input(text); err != nil {
			return nil, fmt.Errorf("type: %w", err)
		}
		return map[string]any{"typed": true}, nil
	})
}

func (f *Feature) handleHover(ctx context.Context, args map[string]any) (any, error) {
	return f.withElement(ctx, args, func(el *rod.Element) (any, error) {
		if err := el.Hover(); err != nil {
			return nil, fmt.Errorf("hover: %w", err)
		}
		return map[string]any{"hovered": true}, nil
	})
}

func (f *Feature) handleEvaluate(ctx context.Context, args map[string]any) (any, error) {
	expr, _ := args["expression"].(string)
	if expr == "" {
		return nil, fmt.Errorf("evaluate requires a non-empty expression")
	}
	page := f.lc.Page()
	if page == nil {
		return nil, errors.New("no active page")
	}
	res, err := page.Context(ctx).Eval(fmt.Sprintf("() => (%s)", expr))
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	var value any
	_ = res.Value.Unmarshal(&value)
	return map[string]any{"result": value}, nil
}

func (f *Feature) handleDrag(ctx context.Context, args map[string]any) (any, error) {
	page := f.lc.Page()
	if page == nil {
		return nil, errors.New("no active page")
	}
	fromSel, err := f.resolveSelector(args, "fromSelector", "fromRef")
	if err != nil {
		return nil, fmt.Errorf("drag: %w", err)
	}
	toSel, err := f.resolveSelector(args, "toSelector", "toRef")
	if err != nil {
		return nil, fmt.Errorf("drag: %w", err)
	}

	pctx := page.Context(ctx)
	fromEl, err := pctx.Element(fromSel)
	if err != nil {
		return nil, fmt.Errorf("drag source not found: %q: %w", fromSel, err)
	}
	toEl, err := pctx.Element(toSel)
	if err != nil {
		return nil, fmt.Errorf("drag target not found: %q: %w", toSel, err)
	}

	fromPt, err := elementCenter(fromEl)
	if err != nil {
		return nil, fmt.Errorf("drag: locate source: %w", err)
	}
	toPt, err := elementCenter(toEl)
	if err != nil {
		return nil, fmt.Errorf("drag: locate target: %w", err)
	}

	mouse := pctx.Mouse
	if err := mouse.MoveTo(fromPt); err != nil {
		return nil, fmt.Errorf("drag: move to source: %w", err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("drag: press: %w", err)
	}
	if err := mouse.MoveTo(toPt); err != nil {
		_ = mouse.Up(proto.InputMouseButtonLeft, 1)
		return nil, fmt.Errorf("drag: move to target: %w", err)
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("drag: release: %w", err)
	}
	return map[string]any{"dragged": true, "from": fromSel, "to": toSel}, nil
}

func elementCenter(el *rod.Element) (proto.Point, error) {
	res, err := el.Eval(`() => { const r = this.getBoundingClientRect(); return {x: r.x + r.width/2, y: r.y + r.height/2}; }`)
	if err != nil {
		return proto.Point{}, err
	}
	var pt struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := res.Value.Unmarshal(&pt); err != nil {
		return proto.Point{}, err
	}
	return proto.Point{X: pt.X, Y: pt.Y}, nil
}

// withElement resolves the command's target element (by selector or ref,
// see resolveSelector) and runs fn against it.
func (f *Feature) withElement(ctx context.Context, args map[string]any, fn func(*rod.Element) (any, error)) (any, error) {
	page := f.lc.Page()
	if page == nil {
		return nil, errors.New("no active page")
	}
	selector, err := f.resolveSelector(args, "selector", "ref")
	if err != nil {
		return nil, err
	}
	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element not found: %q: %w", selector, err)
	}
	return fn(el)
}

// resolveSelector prefers a ref minted by the most recent snapshot
// (resolved through the loaded snapshot feature's GetRefMap) over a raw
// CSS selector, matching the "drag ← snapshot" wiring in spec.md §4.4.
func (f *Feature) resolveSelector(args map[string]any, selectorKey, refKey string) (string, error) {
	if ref, ok := args[refKey].(string); ok && ref != "" {
		feat, ok := f.bus.Get(snapshot.Name)
		if !ok {
			return "", fmt.Errorf("%s %q given but the snapshot feature is not loaded", refKey, ref)
		}
		resolver, ok := feat.(feature.Snapshot)
		if !ok {
			return "", fmt.Errorf("loaded snapshot feature cannot resolve refs")
		}
		data, ok := resolver.GetRefMap()[ref]
		if !ok || data.Selector == "" {
			return "", fmt.Errorf("%s %q is not a valid selector-backed reference; take a fresh snapshot first", refKey, ref)
		}
		return data.Selector, nil
	}
	selector, _ := args[selectorKey].(string)
	if selector == "" {
		return "", fmt.Errorf("requires %s or %s", selectorKey, refKey)
	}
	return selector, nil
}

func (f *Feature) handleTabs(ctx context.Context, args map[string]any) (any, error) {
	action, _ := args["action"].(string)
	switch action {
	case "", "list":
		return f.tabsList()
	case "open":
		return f.tabsOpen(args)
	case "switch":
		return f.tabsSwitch(args)
	case "close":
		return f.tabsClose(args)
	default:
		return nil, fmt.Errorf("unknown tabs action %q", action)
	}
}

func (f *Feature) tabsList() (any, error) {
	pages, err := f.contextPages()
	if err != nil {
		return nil, err
	}
	current := f.lc.Page()
	out := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		out = append(out, map[string]any{
			"id":     string(p.TargetID),
			"url":    pageURL(p),
			"active": current != nil && p.TargetID == current.TargetID,
		})
	}
	return map[string]any{"tabs": out}, nil
}

func (f *Feature) tabsOpen(args map[string]any) (any, error) {
	browserCtx := f.lc.Context()
	if browserCtx == nil {
		return nil, errors.New("no active browser context")
	}
	url, _ := args["url"].(string)
	if url == "" {
		url = "about:blank"
	}
	page, err := browserCtx.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	activate := true
	if v, ok := args["activate"].(bool); ok {
		activate = v
	}
	if activate {
		f.lc.SetPage(page, url)
	}
	return map[string]any{"id": string(page.TargetID), "url": url, "active": activate}, nil
}

func (f *Feature) tabsSwitch(args map[string]any) (any, error) {
	id, _ := args["tabId"].(string)
	if id == "" {
		return nil, errors.New("tabs switch requires tabId")
	}
	pages, err := f.contextPages()
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if string(p.TargetID) == id {
			url := pageURL(p)
			f.lc.SetPage(p, url)
			return map[string]any{"id": id, "url": url}, nil
		}
	}
	return nil, fmt.Errorf("no tab with id %q", id)
}

func (f *Feature) tabsClose(args map[string]any) (any, error) {
	pages, err := f.contextPages()
	if err != nil {
		return nil, err
	}
	if len(pages) <= 1 {
		return nil, errors.New("Cannot close the last remaining tab")
	}

	id, _ := args["tabId"].(string)
	current := f.lc.Page()
	var target *rod.Page
	if id == "" {
		target = current
	} else {
		for _, p := range pages {
			if string(p.TargetID) == id {
				target = p
				break
			}
		}
	}
	if target == nil {
		return nil, fmt.Errorf("no tab with id %q", id)
	}
	wasCurrent := current != nil && target.TargetID == current.TargetID

	if err := target.Close(); err != nil {
		return nil, fmt.Errorf("close tab: %w", err)
	}
	if wasCurrent {
		for _, p := range pages {
			if p.TargetID != target.TargetID {
				f.lc.SetPage(p, pageURL(p))
				break
			}
		}
	}
	return map[string]any{"closed": string(target.TargetID)}, nil
}

func (f *Feature) contextPages() (rod.Pages, error) {
	browserCtx := f.lc.Context()
	if browserCtx == nil {
		return nil, errors.New("no active browser context")
	}
	pages, err := browserCtx.Pages()
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	return pages, nil
}

func pageURL(p *rod.Page) string {
	info, err := p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (f *Feature) handleSaveBrowserState(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("saveBrowserState requires a non-empty name")
	}
	page := f.lc.Page()
	if page == nil {
		return nil, errors.New("no active page")
	}
	if err := lifecycle.SaveNamedState(f.instanceID, name, page); err != nil {
		return nil, fmt.Errorf("saveBrowserState %q: %w", name, err)
	}
	return map[string]any{"saved": name}, nil
}

func (f *Feature) handleRestoreBrowserState(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("restoreBrowserState requires a non-empty name")
	}
	ns, err := lifecycle.LoadNamedState(f.instanceID, name)
	if err != nil {
		return nil, fmt.Errorf("restoreBrowserState %q: %w", name, err)
	}
	page := f.lc.Page()
	if page == nil {
		return nil, errors.New("no active page")
	}
	if err := lifecycle.ApplyStorageState(page, &ns.StorageState); err != nil {
		return nil, fmt.Errorf("restoreBrowserState %q: apply storage state: %w", name, err)
	}
	url := ns.URL
	if url == "" {
		url = "about:blank"
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		return nil, fmt.Errorf("restoreBrowserState %q: navigate: %w", name, err)
	}
	f.lc.SetPage(page, url)
	return map[string]any{"restored": name, "url": url}, nil
}

func (f *Feature) handleListBrowserStates(ctx context.Context, args map[string]any) (any, error) {
	names, err := lifecycle.ListNamedStates(f.instanceID)
	if err != nil {
		return nil, fmt.Errorf("listBrowserStates: %w", err)
	}
	return map[string]any{"states": names}, nil
}

func (f *Feature) handleSetConsoleBufferCapacity(ctx context.Context, args map[string]any) (any, error) {
	n := 0
	if raw, ok := args["capacity"]; ok {
		if fv, ok := raw.(float64); ok {
			n = int(fv)
		}
	}
	feat, ok := f.bus.Get(console.Name)
	if !ok {
		return nil, errors.New("console feature is not loaded")
	}
	setter, ok := feat.(consoleCapacitySetter)
	if !ok {
		return nil, errors.New("loaded console feature cannot resize its buffer")
	}
	return map[string]any{"capacity": setter.SetCapacity(n)}, nil
}

// handleWaitForEvent polls the console or network capture's buffer for an
// entry whose timestamp is at or after the call's start time and, if a
// match string is given, whose text/URL contains it. Resolves with nil
// once timeoutMs elapses (default 30s) with no match, per spec.md §5.
func (f *Feature) handleWaitForEvent(ctx context.Context, args map[string]any) (any, error) {
	eventType, _ := args["type"].(string)
	if eventType == "" {
		return nil, fmt.Errorf("waitForEvent requires a non-empty type")
	}
	match, _ := args["match"].(string)
	timeout := defaultWaitTimeout
	if raw, ok := args["timeoutMs"]; ok {
		if fv, ok := raw.(float64); ok && fv > 0 {
			timeout = time.Duration(fv) * time.Millisecond
		}
	}

	since := time.Now().UnixMilli()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if event := f.pollEvent(eventType, match, since); event != nil {
			return event, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Feature) pollEvent(eventType, match string, since int64) map[string]any {
	switch eventType {
	case "console":
		feat, ok := f.bus.Get(console.Name)
		if !ok {
			return nil
		}
		capture, ok := feat.(feature.ConsoleCapture)
		if !ok {
			return nil
		}
		for _, m := range capture.GetAllMessages() {
			if m.Timestamp >= since && (match == "" || strings.Contains(m.Text, match)) {
				return map[string]any{"type": m.Type, "text": m.Text, "timestamp": m.Timestamp}
			}
		}
	case "network":
		feat, ok := f.bus.Get(network.CaptureName)
		if !ok {
			return nil
		}
		capture, ok := feat.(feature.NetworkCapture)
		if !ok {
			return nil
		}
		for _, e := range capture.RecentEntries(networkScanDepth) {
			if e.Timestamp >= since && (match == "" || strings.Contains(e.URL, match)) {
				return map[string]any{"method": e.Method, "url": e.URL, "status": e.Status, "timestamp": e.Timestamp}
			}
		}
	}
	return nil
}
