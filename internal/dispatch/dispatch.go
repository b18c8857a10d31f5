// Package dispatch implements the five-step command dispatch algorithm:
// route, lazy-load, obtain handler, run the plugin beforeCommand pipeline,
// invoke and enrich. The video-context-recreation special case and the
// lifecycle-bypass commands (status/start/close/setHeadless) are handled
// one layer up, in the manager, per spec.md §4.5.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/browserd/browserd/internal/browrpc"
	"github.com/browserd/browserd/internal/registry"
)

// enrichedCommands get the last 5 console messages folded into
// result["console"] when a console-capture feature is loaded and the
// handler did not already populate that field.
var enrichedCommands = map[string]bool{
	"click":    true,
	"dblclick": true,
	"type":     true,
	"evaluate": true,
	"navigate": true,
}

const pluginsFeatureName = "plugins"

// ConsoleSource is implemented by the console-capture feature for response
// enrichment.
type ConsoleSource interface {
	GetRecentConsole(n int) []any
}

// PluginHooks is implemented by the plugins feature. Hook failures in one
// plugin must not prevent another plugin's hooks from running; that
// isolation is the plugins feature's responsibility, not the dispatcher's.
type PluginHooks interface {
	BeforeCommand(ctx context.Context, cmd string, args map[string]any) (skip bool, reason string)
	AfterCommand(ctx context.Context, cmd string, args map[string]any, result any)
	OnError(ctx context.Context, cmd string, args map[string]any, err error)
}

// PageSource supplies the current page for lazy-load and preload calls.
type PageSource interface {
	Page() *rod.Page
}

// Dispatcher owns the dispatch algorithm over a registry and the current
// page source.
type Dispatcher struct {
	registry *registry.Registry
	pages    PageSource
	log      *zap.SugaredLogger
}

// New creates a Dispatcher.
func New(reg *registry.Registry, pages PageSource, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{registry: reg, pages: pages, log: log}
}

// Dispatch runs the five-step algorithm against cmd/args and returns the
// client-facing response. It does not recover from a panicking handler:
// that is this package's caller's concern (internal/transport already
// recovers around the manager's top-level dispatch entry point).
func (d *Dispatcher) Dispatch(ctx context.Context, cmd string, args map[string]any) browrpc.Response {
	featureName, lazy, ok := d.registry.Route(cmd)
	if !ok {
		return browrpc.Errorf(browrpc.ErrUnknownCommand, fmt.Sprintf("Unknown command: %s", cmd))
	}

	if lazy {
		if _, loaded := d.registry.Get(featureName); !loaded {
			if _, err := d.registry.LoadLazyFeature(ctx, featureName, d.pages.Page()); err != nil {
				return browrpc.Errorf(browrpc.ErrFeatureLoad, err.Error())
			}
		}
	}

	feat, ok := d.registry.Get(featureName)
	if !ok {
		return browrpc.Errorf(browrpc.ErrHandlerDomain, fmt.Sprintf("feature %q did not load", featureName))
	}
	handler, ok := feat.Handler(cmd)
	if !ok {
		return browrpc.Errorf(browrpc.ErrUnknownCommand, fmt.Sprintf("Unknown command: %s", cmd))
	}

	if skip, reason := d.runBeforeCommandHooks(ctx, cmd, args); skip {
		return browrpc.Response{
			Status:  browrpc.StatusOK,
			Message: fmt.Sprintf("Command skipped by plugin: %s", reason),
			Data:    map[string]any{"skipped": true, "command": cmd},
		}
	}

	result, err := handler(ctx, args)
	if err != nil {
		d.runOnErrorHooks(ctx, cmd, args, err)
		var dataErr *browrpc.DataError
		if errors.As(err, &dataErr) {
			return browrpc.Response{Status: browrpc.StatusError, Code: dataErr.Code, Message: dataErr.Message, Data: dataErr.Data}
		}
		return browrpc.Errorf(browrpc.ErrHandlerDomain, err.Error())
	}

	result = d.enrich(cmd, result)
	d.runAfterCommandHooks(ctx, cmd, args, result)
	d.registry.TriggerPreload(cmd, d.pages.Page())

	return browrpc.OK(result)
}

func (d *Dispatcher) enrich(cmd string, result any) any {
	if !enrichedCommands[cmd] {
		return result
	}
	data, ok := result.(map[string]any)
	if !ok {
		return result
	}
	if _, present := data["console"]; present {
		return result
	}
	console, ok := d.registry.Get("console")
	if !ok {
		return result
	}
	source, ok := console.(ConsoleSource)
	if !ok {
		return result
	}
	data["console"] = source.GetRecentConsole(5)
	return data
}

func (d *Dispatcher) pluginHooks() (PluginHooks, bool) {
	feat, ok := d.registry.Get(pluginsFeatureName)
	if !ok {
		return nil, false
	}
	hooks, ok := feat.(PluginHooks)
	return hooks, ok
}

func (d *Dispatcher) runBeforeCommandHooks(ctx context.Context, cmd string, args map[string]any) (skip bool, reason string) {
	hooks, ok := d.pluginHooks()
	if !ok {
		return false, ""
	}
	return hooks.BeforeCommand(ctx, cmd, args)
}

func (d *Dispatcher) runAfterCommandHooks(ctx context.Context, cmd string, args map[string]any, result any) {
	hooks, ok := d.pluginHooks()
	if !ok {
		return
	}
	hooks.AfterCommand(ctx, cmd, args, result)
}

func (d *Dispatcher) runOnErrorHooks(ctx context.Context, cmd string, args map[string]any, err error) {
	hooks, ok := d.pluginHooks()
	if !ok {
		return
	}
	hooks.OnError(ctx, cmd, args, err)
}
