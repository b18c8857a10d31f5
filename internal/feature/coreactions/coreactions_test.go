package coreactions

import (
	"context"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/feature"
	"github.com/browserd/browserd/internal/feature/snapshot"
	"github.com/browserd/browserd/internal/registry"
)

// fakeBus is a minimal registry.Bus for exercising resolveSelector and the
// capacity/ref lookups without a real registry.Registry.
type fakeBus struct {
	features map[string]registry.Feature
}

func (b *fakeBus) Get(name string) (registry.Feature, bool) {
	f, ok := b.features[name]
	return f, ok
}

// fakeSnapshotFeature implements registry.Feature and feature.Snapshot so it
// can stand in for the real snapshot feature in a fakeBus.
type fakeSnapshotFeature struct {
	refs map[string]feature.RefData
}

func (f *fakeSnapshotFeature) Commands() []string                      { return []string{"snapshot", "getRefMap"} }
func (f *fakeSnapshotFeature) Handler(string) (registry.Handler, bool) { return nil, false }
func (f *fakeSnapshotFeature) Capture(ctx context.Context) (string, error) {
	return "", nil
}
func (f *fakeSnapshotFeature) GetRefMap() map[string]feature.RefData { return f.refs }

// noBrowserLifecycle satisfies Lifecycle with no page or context, exercising
// the "no active browser context"/"no active page" guard paths without a
// real browser.
type noBrowserLifecycle struct{}

func (noBrowserLifecycle) Page() *rod.Page               { return nil }
func (noBrowserLifecycle) Context() *rod.Browser         { return nil }
func (noBrowserLifecycle) SetPage(*rod.Page, string)     {}

func TestEveryListedCommandHasAHandler(t *testing.T) {
	f := &Feature{}
	for _, cmd := range f.Commands() {
		_, ok := f.Handler(cmd)
		require.Truef(t, ok, "Commands() lists %q but Handler does not serve it", cmd)
	}
}

func TestHandlerRejectsUnknownCommand(t *testing.T) {
	f := &Feature{}
	_, ok := f.Handler("notACommand")
	require.False(t, ok)
}

func TestResolveSelectorPrefersDirectSelectorWhenNoRefGiven(t *testing.T) {
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{}}}
	selector, err := f.resolveSelector(map[string]any{"selector": "#submit"}, "selector", "ref")
	require.NoError(t, err)
	require.Equal(t, "#submit", selector)
}

func TestResolveSelectorRequiresSelectorOrRef(t *testing.T) {
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{}}}
	_, err := f.resolveSelector(map[string]any{}, "selector", "ref")
	require.Error(t, err)
}

func TestResolveSelectorRejectsRefWithNoSnapshotLoaded(t *testing.T) {
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{}}}
	_, err := f.resolveSelector(map[string]any{"ref": "e1"}, "selector", "ref")
	require.Error(t, err)
	require.Contains(t, err.Error(), "snapshot feature is not loaded")
}

func TestResolveSelectorResolvesRefThroughLoadedSnapshot(t *testing.T) {
	snap := &fakeSnapshotFeature{refs: map[string]feature.RefData{
		"e1": {Ref: "e1", Role: "button", Name: "Submit", Selector: `[data-bref="e1"]`},
	}}
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{snapshot.Name: snap}}}

	selector, err := f.resolveSelector(map[string]any{"ref": "e1"}, "selector", "ref")
	require.NoError(t, err)
	require.Equal(t, `[data-bref="e1"]`, selector)
}

func TestResolveSelectorRejectsRefWithNoSelector(t *testing.T) {
	snap := &fakeSnapshotFeature{refs: map[string]feature.RefData{
		"e1": {Ref: "e1", Role: "text", Name: "Heading"},
	}}
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{snapshot.Name: snap}}}

	_, err := f.resolveSelector(map[string]any{"ref": "e1"}, "selector", "ref")
	require.Error(t, err)
}

func TestTabsCloseFailsWithoutABrowserContext(t *testing.T) {
	f := &Feature{lc: noBrowserLifecycle{}}
	_, err := f.tabsClose(map[string]any{})
	require.Error(t, err)
}

func TestTabsOpenFailsWithoutABrowserContext(t *testing.T) {
	f := &Feature{lc: noBrowserLifecycle{}}
	_, err := f.tabsOpen(map[string]any{"url": "https://example.com"})
	require.Error(t, err)
}

func TestHandleNavigateRequiresAnActivePage(t *testing.T) {
	f := &Feature{lc: noBrowserLifecycle{}}
	_, err := f.handleNavigate(context.Background(), map[string]any{"url": "https://example.com"})
	require.Error(t, err)
}

func TestHandleNavigateRejectsEmptyURL(t *testing.T) {
	f := &Feature{lc: noBrowserLifecycle{}}
	_, err := f.handleNavigate(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestHandleSetConsoleBufferCapacityRequiresConsoleFeature(t *testing.T) {
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{}}}
	_, err := f.handleSetConsoleBufferCapacity(context.Background(), map[string]any{"capacity": float64(50)})
	require.Error(t, err)
}

func TestHandleSaveBrowserStateRequiresAName(t *testing.T) {
	f := &Feature{lc: noBrowserLifecycle{}}
	_, err := f.handleSaveBrowserState(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestHandleWaitForEventRequiresAType(t *testing.T) {
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{}}}
	_, err := f.handleWaitForEvent(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestHandleWaitForEventTimesOutToNilWhenNoEventArrives(t *testing.T) {
	f := &Feature{bus: &fakeBus{features: map[string]registry.Feature{}}}
	result, err := f.handleWaitForEvent(context.Background(), map[string]any{
		"type":      "console",
		"timeoutMs": float64(150),
	})
	require.NoError(t, err)
	require.Nil(t, result)
}
