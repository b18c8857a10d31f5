// Package registry builds and maintains the feature map and command index:
// core features initialized eagerly against the live page, lazy features
// constructed on first use, and the best-effort dependency wiring between
// them.
//
// Per the redesign in spec.md §9 (Design Notes, first bullet), lazy
// features declare their commands statically instead of being probed with
// a throwaway null-page instance — LazyEntry.Commands is known before any
// construction happens, so the command index is complete the moment Build
// returns.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/browserd/browserd/internal/util"
)

// preloadDrainInterval and preloadDrainBatch bound how fast the preload
// backlog is worked off: frequent enough that a hint loads well within a
// user's next command, bounded per tick so a burst of dispatched commands
// cannot starve the drain goroutine or pile up unbounded concurrent loads.
const (
	preloadDrainInterval = 50 * time.Millisecond
	preloadDrainBatch    = 8
)

type preloadItem struct {
	feature string
	page    *rod.Page
}

// Handler answers one command for a loaded feature.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Feature is the minimum contract every core or lazy feature implements.
type Feature interface {
	// Commands returns the command names this feature handles.
	Commands() []string
	// Handler returns the handler for cmd, or false if this feature does
	// not actually handle it despite listing it in Commands().
	Handler(cmd string) (Handler, bool)
}

// Setupable features run async setup once constructed with a real page.
type Setupable interface {
	Setup(ctx context.Context) error
}

// Cleanupable features run async teardown before the registry is discarded.
type Cleanupable interface {
	Cleanup(ctx context.Context) error
}

// Constructor builds a feature instance bound to page. page is nil only
// during the dead null-page probe pattern this package deliberately avoids;
// every Constructor this registry calls receives a real, current page.
type Constructor func(page *rod.Page) (Feature, error)

// CoreEntry is a feature constructed unconditionally at Build time, in
// list order.
type CoreEntry struct {
	Name string
	New  Constructor
}

// LazyEntry is a feature constructed on first use. Commands is declared
// statically so the command index can route to it before it is ever
// constructed.
type LazyEntry struct {
	Name     string
	Commands []string
	New      Constructor
}

// WireEdge describes a best-effort dependency: whenever both Provider and
// Consumer are loaded (in either order), Apply is called once per load
// event so Consumer can pull (or Provider can push) the collaboration.
// Apply should be idempotent — it may run more than once for the same pair
// across re-initializations.
type WireEdge struct {
	Provider string
	Consumer string
	Apply    func(provider, consumer Feature)
}

// Bus is the read side features use to look up already-loaded
// collaborators without a setter-injection cycle back to the registry.
type Bus interface {
	Get(name string) (Feature, bool)
}

type route struct {
	feature string
	lazy    bool
}

// Registry holds the feature map and command index for one manager.
type Registry struct {
	mu sync.Mutex

	log *zap.SugaredLogger

	lazyDefs     map[string]LazyEntry
	features     map[string]Feature
	commandIndex map[string]route
	wireEdges    []WireEdge
	preloadHints map[string][]string

	preloadQueue *queue.Queue
	preloadMu    sync.Mutex
	stopDrain    chan struct{}
	stopOnce     sync.Once
}

// New creates an empty Registry and starts its background preload-hint
// drain loop. Call Stop when the registry is discarded.
func New(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Registry{
		log:          log,
		lazyDefs:     make(map[string]LazyEntry),
		features:     make(map[string]Feature),
		commandIndex: make(map[string]route),
		preloadHints: make(map[string][]string),
		preloadQueue: queue.New(),
		stopDrain:    make(chan struct{}),
	}
	util.SafeGo(r.drainPreloadLoop)
	return r
}

// Stop halts the preload drain loop. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopDrain) })
}

// AddWireEdge registers a dependency edge evaluated after every load event.
func (r *Registry) AddWireEdge(e WireEdge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wireEdges = append(r.wireEdges, e)
}

// SetPreloadHints installs the cmd → [featureName,...] table consulted
// after each successful dispatch.
func (r *Registry) SetPreloadHints(hints map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preloadHints = hints
}

// Build resets the feature map and constructs every core feature against
// page, in order, wiring dependencies as each comes online. Lazy entries
// are recorded but not constructed. Call Build again after start,
// setHeadless-restart, or recreateContext to rebuild against the new page.
func (r *Registry) Build(ctx context.Context, page *rod.Page, core []CoreEntry, lazy []LazyEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.features = make(map[string]Feature)
	r.commandIndex = make(map[string]route)
	r.lazyDefs = make(map[string]LazyEntry)

	for _, entry := range lazy {
		r.lazyDefs[entry.Name] = entry
		for _, cmd := range entry.Commands {
			r.commandIndex[cmd] = route{feature: entry.Name, lazy: true}
		}
	}

	for _, entry := range core {
		feat, err := entry.New(page)
		if err != nil {
			return fmt.Errorf("construct core feature %q: %w", entry.Name, err)
		}
		if setup, ok := feat.(Setupable); ok {
			if err := setup.Setup(ctx); err != nil {
				return fmt.Errorf("setup core feature %q: %w", entry.Name, err)
			}
		}
		r.features[entry.Name] = feat
		for _, cmd := range feat.Commands() {
			r.commandIndex[cmd] = route{feature: entry.Name, lazy: false}
		}
		r.tryWireLocked(entry.Name)
	}

	return nil
}

// Get implements Bus.
func (r *Registry) Get(name string) (Feature, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.features[name]
	return f, ok
}

// Route reports which feature owns cmd and whether it must be lazily
// loaded before dispatch.
func (r *Registry) Route(cmd string) (featureName string, lazy bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.commandIndex[cmd]
	return rt.feature, rt.lazy, ok
}

// LoadLazyFeature constructs and wires the named lazy feature against page
// if it is not already loaded. Idempotent: returns the cached instance on
// repeat calls.
func (r *Registry) LoadLazyFeature(ctx context.Context, name string, page *rod.Page) (Feature, error) {
	r.mu.Lock()
	if existing, ok := r.features[name]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	def, ok := r.lazyDefs[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no lazy feature registered as %q", name)
	}

	feat, err := def.New(page)
	if err != nil {
		return nil, fmt.Errorf("construct lazy feature %q: %w", name, err)
	}
	if setup, ok := feat.(Setupable); ok {
		if err := setup.Setup(ctx); err != nil {
			return nil, fmt.Errorf("setup lazy feature %q: %w", name, err)
		}
	}

	r.mu.Lock()
	r.features[name] = feat
	r.tryWireLocked(name)
	r.mu.Unlock()
	return feat, nil
}

// tryWireLocked must be called with mu held.
func (r *Registry) tryWireLocked(name string) {
	for _, e := range r.wireEdges {
		if e.Provider == name {
			if consumer, ok := r.features[e.Consumer]; ok {
				if provider, ok2 := r.features[name]; ok2 {
					e.Apply(provider, consumer)
				}
			}
		}
		if e.Consumer == name {
			if provider, ok := r.features[e.Provider]; ok {
				if consumer, ok2 := r.features[name]; ok2 {
					e.Apply(provider, consumer)
				}
			}
		}
	}
}

// TriggerPreload enqueues every unloaded feature hinted for cmd onto the
// preload backlog; the drain loop works through it asynchronously.
// Non-blocking, and never a dispatch precondition.
func (r *Registry) TriggerPreload(cmd string, page *rod.Page) {
	r.mu.Lock()
	hints := r.preloadHints[cmd]
	r.mu.Unlock()

	for _, name := range hints {
		if _, loaded := r.Get(name); loaded {
			continue
		}
		r.preloadMu.Lock()
		r.preloadQueue.Add(preloadItem{feature: name, page: page})
		r.preloadMu.Unlock()
	}
}

func (r *Registry) drainPreloadLoop() {
	ticker := time.NewTicker(preloadDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopDrain:
			return
		case <-ticker.C:
			r.drainPreloadTick()
		}
	}
}

func (r *Registry) drainPreloadTick() {
	for i := 0; i < preloadDrainBatch; i++ {
		r.preloadMu.Lock()
		if r.preloadQueue.Length() == 0 {
			r.preloadMu.Unlock()
			return
		}
		item := r.preloadQueue.Remove().(preloadItem)
		r.preloadMu.Unlock()

		if _, loaded := r.Get(item.feature); loaded {
			continue
		}
		if _, err := r.LoadLazyFeature(context.Background(), item.feature, item.page); err != nil {
			r.log.Debugw("preload hint failed", "feature", item.feature, "error", err)
		}
	}
}

// Cleanup awaits every loaded feature's optional Cleanup, logging but not
// propagating individual failures.
func (r *Registry) Cleanup(ctx context.Context) {
	r.mu.Lock()
	features := make(map[string]Feature, len(r.features))
	for k, v := range r.features {
		features[k] = v
	}
	r.mu.Unlock()

	for name, feat := range features {
		cleanup, ok := feat.(Cleanupable)
		if !ok {
			continue
		}
		if err := cleanup.Cleanup(ctx); err != nil {
			r.log.Warnw("feature cleanup failed", "feature", name, "error", err)
		}
	}
}
