package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/registry"
)

type stubPages struct{}

func (stubPages) Page() *rod.Page { return nil }

type stubFeature struct {
	commands []string
	handlers map[string]registry.Handler
}

func (f *stubFeature) Commands() []string { return f.commands }
func (f *stubFeature) Handler(cmd string) (registry.Handler, bool) {
	h, ok := f.handlers[cmd]
	return h, ok
}

func newRegistryWithCore(t *testing.T, name string, feat *stubFeature) *registry.Registry {
	t.Helper()
	reg := registry.New(nil)
	t.Cleanup(reg.Stop)
	err := reg.Build(context.Background(), nil, []registry.CoreEntry{
		{Name: name, New: func(page *rod.Page) (registry.Feature, error) { return feat, nil }},
	}, nil)
	require.NoError(t, err)
	return reg
}

func TestDispatchUnknownCommandReturnsErrorResponse(t *testing.T) {
	reg := registry.New(nil)
	t.Cleanup(reg.Stop)
	require.NoError(t, reg.Build(context.Background(), nil, nil, nil))

	d := New(reg, stubPages{}, nil)
	resp := d.Dispatch(context.Background(), "nonexistent", nil)
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "unknown_command", resp.Code)
	require.Contains(t, resp.Message, "nonexistent")
}

func TestDispatchRoutesToCoreHandler(t *testing.T) {
	feat := &stubFeature{
		commands: []string{"status"},
		handlers: map[string]registry.Handler{
			"status": func(ctx context.Context, args map[string]any) (any, error) {
				return map[string]any{"running": true}, nil
			},
		},
	}
	reg := newRegistryWithCore(t, "core", feat)
	d := New(reg, stubPages{}, nil)

	resp := d.Dispatch(context.Background(), "status", nil)
	require.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	require.Equal(t, true, data["running"])
}

func TestDispatchLazyLoadFailurePropagatesFeatureLoadError(t *testing.T) {
	reg := registry.New(nil)
	t.Cleanup(reg.Stop)
	require.NoError(t, reg.Build(context.Background(), nil, nil, []registry.LazyEntry{
		{Name: "video", Commands: []string{"startRecording"}, New: func(page *rod.Page) (registry.Feature, error) {
			return nil, errors.New("launch failed")
		}},
	}))

	d := New(reg, stubPages{}, nil)
	resp := d.Dispatch(context.Background(), "startRecording", nil)
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "feature_load", resp.Code)
}

func TestDispatchHandlerErrorReturnsHandlerDomainCode(t *testing.T) {
	feat := &stubFeature{
		commands: []string{"click"},
		handlers: map[string]registry.Handler{
			"click": func(ctx context.Context, args map[string]any) (any, error) {
				return nil, errors.New("element not found")
			},
		},
	}
	reg := newRegistryWithCore(t, "actions", feat)
	d := New(reg, stubPages{}, nil)

	resp := d.Dispatch(context.Background(), "click", nil)
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "handler_domain", resp.Code)
	require.Contains(t, resp.Message, "element not found")
}

type fakeConsole struct {
	recent []any
}

func (c *fakeConsole) Commands() []string                          { return nil }
func (c *fakeConsole) Handler(string) (registry.Handler, bool)     { return nil, false }
func (c *fakeConsole) GetRecentConsole(n int) []any                { return c.recent }

func TestDispatchEnrichesClickResponseWithConsole(t *testing.T) {
	reg := registry.New(nil)
	t.Cleanup(reg.Stop)

	actions := &stubFeature{
		commands: []string{"click"},
		handlers: map[string]registry.Handler{
			"click": func(ctx context.Context, args map[string]any) (any, error) {
				return map[string]any{"clicked": true}, nil
			},
		},
	}
	console := &fakeConsole{recent: []any{"log: hi"}}

	err := reg.Build(context.Background(), nil, []registry.CoreEntry{
		{Name: "actions", New: func(page *rod.Page) (registry.Feature, error) { return actions, nil }},
		{Name: "console", New: func(page *rod.Page) (registry.Feature, error) { return console, nil }},
	}, nil)
	require.NoError(t, err)

	d := New(reg, stubPages{}, nil)
	resp := d.Dispatch(context.Background(), "click", nil)

	data := resp.Data.(map[string]any)
	require.Equal(t, []any{"log: hi"}, data["console"])
}

func TestDispatchDoesNotEnrichNonListedCommand(t *testing.T) {
	reg := registry.New(nil)
	t.Cleanup(reg.Stop)

	actions := &stubFeature{
		commands: []string{"screenshot"},
		handlers: map[string]registry.Handler{
			"screenshot": func(ctx context.Context, args map[string]any) (any, error) {
				return map[string]any{"ok": true}, nil
			},
		},
	}
	console := &fakeConsole{recent: []any{"log: hi"}}
	err := reg.Build(context.Background(), nil, []registry.CoreEntry{
		{Name: "actions", New: func(page *rod.Page) (registry.Feature, error) { return actions, nil }},
		{Name: "console", New: func(page *rod.Page) (registry.Feature, error) { return console, nil }},
	}, nil)
	require.NoError(t, err)

	d := New(reg, stubPages{}, nil)
	resp := d.Dispatch(context.Background(), "screenshot", nil)
	data := resp.Data.(map[string]any)
	_, present := data["console"]
	require.False(t, present)
}

type fakePlugins struct {
	skip       bool
	reason     string
	beforeHits int
	afterHits  int
	errorHits  int
}

func (p *fakePlugins) Commands() []string                      { return nil }
func (p *fakePlugins) Handler(string) (registry.Handler, bool) { return nil, false }
func (p *fakePlugins) BeforeCommand(ctx context.Context, cmd string, args map[string]any) (bool, string) {
	p.beforeHits++
	return p.skip, p.reason
}
func (p *fakePlugins) AfterCommand(ctx context.Context, cmd string, args map[string]any, result any) {
	p.afterHits++
}
func (p *fakePlugins) OnError(ctx context.Context, cmd string, args map[string]any, err error) {
	p.errorHits++
}

func TestDispatchSkippedByPluginNeverRunsHandler(t *testing.T) {
	handlerRan := false
	actions := &stubFeature{
		commands: []string{"navigate"},
		handlers: map[string]registry.Handler{
			"navigate": func(ctx context.Context, args map[string]any) (any, error) {
				handlerRan = true
				return map[string]any{}, nil
			},
		},
	}
	plugins := &fakePlugins{skip: true, reason: "blocked by policy"}

	reg := registry.New(nil)
	t.Cleanup(reg.Stop)
	err := reg.Build(context.Background(), nil, []registry.CoreEntry{
		{Name: "actions", New: func(page *rod.Page) (registry.Feature, error) { return actions, nil }},
		{Name: "plugins", New: func(page *rod.Page) (registry.Feature, error) { return plugins, nil }},
	}, nil)
	require.NoError(t, err)

	d := New(reg, stubPages{}, nil)
	resp := d.Dispatch(context.Background(), "navigate", nil)

	require.False(t, handlerRan)
	require.Equal(t, "ok", resp.Status)
	require.Contains(t, resp.Message, "blocked by policy")
	data := resp.Data.(map[string]any)
	require.Equal(t, true, data["skipped"])
}

func TestDispatchFiresAfterAndErrorHooks(t *testing.T) {
	okFeat := &stubFeature{
		commands: []string{"ok_cmd", "fail_cmd"},
		handlers: map[string]registry.Handler{
			"ok_cmd": func(ctx context.Context, args map[string]any) (any, error) {
				return map[string]any{}, nil
			},
			"fail_cmd": func(ctx context.Context, args map[string]any) (any, error) {
				return nil, errors.New("boom")
			},
		},
	}
	plugins := &fakePlugins{}

	reg := registry.New(nil)
	t.Cleanup(reg.Stop)
	err := reg.Build(context.Background(), nil, []registry.CoreEntry{
		{Name: "actions", New: func(page *rod.Page) (registry.Feature, error) { return okFeat, nil }},
		{Name: "plugins", New: func(page *rod.Page) (registry.Feature, error) { return plugins, nil }},
	}, nil)
	require.NoError(t, err)

	d := New(reg, stubPages{}, nil)
	d.Dispatch(context.Background(), "ok_cmd", nil)
	d.Dispatch(context.Background(), "fail_cmd", nil)

	require.Equal(t, 2, plugins.beforeHits)
	require.Equal(t, 1, plugins.afterHits)
	require.Equal(t, 1, plugins.errorHits)
}
