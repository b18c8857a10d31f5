// Package snapshot implements the snapshot feature: a lazy feature that
// renders the page's accessibility tree as a ref-annotated text document.
// Refs minted by the most recent Capture are the only ones guaranteed
// valid; callers that hold a ref from an older snapshot may find it stale.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/registry"
)

// Name is the feature name snapshot is registered under.
const Name = "snapshot"

var commands = []string{"snapshot", "getRefMap"}

// Feature captures and renders the accessibility tree on demand.
type Feature struct {
	page *rod.Page

	mu     sync.Mutex
	refMap map[string]feature.RefData
}

// New constructs the snapshot feature. Matches registry.Constructor.
func New(page *rod.Page) (registry.Feature, error) {
	return &Feature{page: page, refMap: make(map[string]feature.RefData)}, nil
}

// Commands satisfies registry.Feature.
func (f *Feature) Commands() []string { return commands }

// Handler satisfies registry.Feature.
func (f *Feature) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "snapshot":
		return f.handleSnapshot, true
	case "getRefMap":
		return f.handleGetRefMap, true
	default:
		return nil, false
	}
}

func (f *Feature) handleSnapshot(ctx context.Context, args map[string]any) (any, error) {
	text, err := f.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"snapshot": text}, nil
}

func (f *Feature) handleGetRefMap(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"refMap": f.GetRefMap()}, nil
}

// Capture renders the current page's accessibility tree, falling back to a
// DOM traversal when the accessibility tree comes back empty, and
// degrading to an error-describing string (not an error return) only when
// both paths fail outright. Matches feature.Snapshot.
func (f *Feature) Capture(ctx context.Context) (string, error) {
	tree, err := proto.AccessibilityGetFullAXTree{}.Call(f.page.Context(ctx))
	if err == nil && len(tree.Nodes) > 0 {
		return f.renderAXTree(tree.Nodes), nil
	}

	text, ferr := f.captureViaDOMFallback(ctx)
	if ferr == nil {
		return text, nil
	}

	return fmt.Sprintf("=== SNAPSHOT UNAVAILABLE ===\naccessibility tree error: %v\nDOM fallback error: %v", err, ferr), nil
}

// labeledNode is the role/name pair either capture path reduces down to
// before ref assignment, so both paths share the same ref-minting logic.
type labeledNode struct {
	Role     string
	Name     string
	Selector string
}

func (f *Feature) renderAXTree(nodes []*proto.AccessibilityAXNode) string {
	rows := make([]labeledNode, 0, len(nodes))
	for _, node := range nodes {
		if node == nil || node.Role == nil {
			continue
		}
		name := ""
		if node.Name != nil {
			name = node.Name.Value.Str()
		}
		rows = append(rows, labeledNode{Role: node.Role.Value.Str(), Name: name})
	}
	return f.renderRowsAndStoreRefMap("=== SNAPSHOT ===", rows)
}

// renderRowsAndStoreRefMap mints sequential refs for rows, replaces the
// feature's ref map, and renders the ref-annotated text document. Shared by
// the accessibility-tree path and the DOM-fallback path.
func (f *Feature) renderRowsAndStoreRefMap(header string, rows []labeledNode) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refMap = make(map[string]feature.RefData)
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for i, row := range rows {
		ref := fmt.Sprintf("e%d", i+1)
		f.refMap[ref] = feature.RefData{Ref: ref, Role: row.Role, Name: row.Name, Selector: row.Selector}
		fmt.Fprintf(&b, "- %s %q [ref=%s]\n", row.Role, row.Name, ref)
	}
	return b.String()
}

// captureViaDOMFallback walks document interactive elements in the page
// when the CDP accessibility tree capture returns nothing (e.g. a blank or
// not-yet-painted page).
// captureViaDOMFallback also stamps each matched element with a
// data-bref="eN" attribute, in the same order this function later mints
// refs in, so every ref from this path carries a CSS selector that
// commands like click/hover/drag can re-target the element by later.
func (f *Feature) captureViaDOMFallback(ctx context.Context) (string, error) {
	res, err := f.page.Context(ctx).Eval(`() => {
		const sel = "a,button,input,select,textarea,[role]";
		return Array.from(document.querySelectorAll(sel)).map((el, i) => {
			el.setAttribute("data-bref", "e" + (i + 1));
			return {
				role: el.getAttribute("role") || el.tagName.toLowerCase(),
				name: (el.innerText || el.getAttribute("aria-label") || el.value || "").trim(),
			};
		});
	}`)
	if err != nil {
		return "", err
	}

	var decoded []struct {
		Role string `json:"role"`
		Name string `json:"name"`
	}
	if err := res.Value.Unmarshal(&decoded); err != nil {
		return "", err
	}

	rows := make([]labeledNode, len(decoded))
	for i, d := range decoded {
		rows[i] = labeledNode{Role: d.Role, Name: d.Name, Selector: fmt.Sprintf("[data-bref=%q]", fmt.Sprintf("e%d", i+1))}
	}
	return f.renderRowsAndStoreRefMap("=== SNAPSHOT (DOM fallback) ===", rows), nil
}

// GetRefMap satisfies feature.Snapshot.
func (f *Feature) GetRefMap() map[string]feature.RefData {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]feature.RefData, len(f.refMap))
	for k, v := range f.refMap {
		out[k] = v
	}
	return out
}
