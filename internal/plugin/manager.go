// Package plugin implements the plugin subsystem: sandboxed loading of
// allow-listed plugin files, the load/unload lifecycle, fsnotify-driven
// hot reload of the plugins directory, and the beforeCommand/afterCommand/
// onError/onNavigate/onSnapshot hook pipelines. Every hook invocation races
// a 30-second timeout, and one plugin's failing hook never prevents
// another plugin's hook from running.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/browserd/browserd/internal/registry"
	"github.com/browserd/browserd/internal/util"
)

const hookTimeout = 30 * time.Second

// Plugin is one loaded plugin file.
type Plugin struct {
	Name  string
	Path  string
	hooks *hookSet
}

// Manager owns the loaded-plugin set and the directory watch.
type Manager struct {
	mu          sync.RWMutex
	pluginsDir  string
	plugins     map[string]*Plugin
	watcher     *fsnotify.Watcher
	log         *zap.SugaredLogger
	stop        chan struct{}
	stopOnce    sync.Once
	hookTimeout time.Duration // overridden in tests; defaults to the package constant
}

// NewManager creates a Manager rooted at pluginsDir (already validated by
// ValidatePluginsDir). An empty pluginsDir disables the subsystem: no
// directory is watched and LoadPlugin always fails. Commands still lists
// loadPlugin/unloadPlugin/listPlugins.
func NewManager(pluginsDir string, log *zap.SugaredLogger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		pluginsDir:  pluginsDir,
		plugins:     make(map[string]*Plugin),
		log:         log,
		stop:        make(chan struct{}),
		hookTimeout: hookTimeout,
	}
	if pluginsDir == "" {
		return m, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create plugin directory watcher: %w", err)
	}
	if err := watcher.Add(pluginsDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch plugins directory: %w", err)
	}
	m.watcher = watcher
	util.SafeGo(m.watchLoop)
	return m, nil
}

// Stop closes the directory watch. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
	})
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFSEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warnw("plugin directory watch error", "error", err)
		}
	}
}

func (m *Manager) handleFSEvent(event fsnotify.Event) {
	if strings.ToLower(filepath.Ext(event.Name)) != ".go" {
		return
	}
	name := pluginNameFromPath(event.Name)

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if _, err := os.Stat(event.Name); err != nil {
			return
		}
		if err := m.LoadPlugin(event.Name); err != nil {
			m.log.Warnw("plugin hot-reload failed", "path", event.Name, "error", err)
		}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		m.UnloadPlugin(name)
	}
}

func pluginNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadPlugin validates path against the sandbox, interprets it, and
// installs or replaces the plugin under its filename-derived name.
func (m *Manager) LoadPlugin(path string) error {
	resolved, err := ValidatePluginPath(path, m.pluginsDir)
	if err != nil {
		return err
	}
	source, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("read plugin file: %w", err)
	}
	hooks, err := loadHooks(string(source))
	if err != nil {
		return fmt.Errorf("load plugin %q: %w", resolved, err)
	}

	name := pluginNameFromPath(resolved)
	m.mu.Lock()
	m.plugins[name] = &Plugin{Name: name, Path: resolved, hooks: hooks}
	m.mu.Unlock()
	m.log.Infow("plugin loaded", "name", name, "path", resolved)
	return nil
}

// UnloadPlugin removes a loaded plugin by name. A no-op if not loaded.
func (m *Manager) UnloadPlugin(name string) {
	m.mu.Lock()
	_, existed := m.plugins[name]
	delete(m.plugins, name)
	m.mu.Unlock()
	if existed {
		m.log.Infow("plugin unloaded", "name", name)
	}
}

// Loaded returns the names of currently loaded plugins.
func (m *Manager) Loaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	return names
}

func (m *Manager) snapshot() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	return out
}

// runWithTimeout races fn against hookTimeout. A failing or timing-out
// plugin hook is logged and otherwise ignored so it cannot block or skip
// other plugins' hooks.
func (m *Manager) runWithTimeout(pluginName, hook string, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				m.log.Warnw("plugin hook panicked", "plugin", pluginName, "hook", hook, "panic", r)
			}
		}()
		fn()
	}()

	select {
	case <-done:
	case <-time.After(m.hookTimeout):
		m.log.Warnw("plugin hook timed out", "plugin", pluginName, "hook", hook, "timeout", m.hookTimeout)
	}
}

// BeforeCommand runs every loaded plugin's BeforeCommand hook
// concurrently, so one plugin hung inside its 30s timeout window never
// delays another's. The first plugin to report skip=true wins.
func (m *Manager) BeforeCommand(ctx context.Context, cmd string, args map[string]any) (skip bool, reason string) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range m.snapshot() {
		if p.hooks.beforeCommand == nil {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			var localSkip bool
			var localReason string
			m.runWithTimeout(p.Name, hookBeforeCommand, func() {
				localSkip, localReason = p.hooks.beforeCommand(cmd, args)
			})
			if localSkip {
				mu.Lock()
				if !skip {
					skip, reason = true, localReason
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return skip, reason
}

// AfterCommand runs every loaded plugin's AfterCommand hook concurrently.
func (m *Manager) AfterCommand(ctx context.Context, cmd string, args map[string]any, result any) {
	var wg sync.WaitGroup
	for _, p := range m.snapshot() {
		if p.hooks.afterCommand == nil {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runWithTimeout(p.Name, hookAfterCommand, func() {
				p.hooks.afterCommand(cmd, args, result)
			})
		}()
	}
	wg.Wait()
}

// OnError runs every loaded plugin's OnError hook concurrently.
func (m *Manager) OnError(ctx context.Context, cmd string, args map[string]any, err error) {
	var wg sync.WaitGroup
	for _, p := range m.snapshot() {
		if p.hooks.onError == nil {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runWithTimeout(p.Name, hookOnError, func() {
				p.hooks.onError(cmd, args, err.Error())
			})
		}()
	}
	wg.Wait()
}

// OnNavigate runs every loaded plugin's OnNavigate hook concurrently.
func (m *Manager) OnNavigate(url string) {
	var wg sync.WaitGroup
	for _, p := range m.snapshot() {
		if p.hooks.onNavigate == nil {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runWithTimeout(p.Name, hookOnNavigate, func() {
				p.hooks.onNavigate(url)
			})
		}()
	}
	wg.Wait()
}

// OnSnapshot runs every loaded plugin's OnSnapshot hook concurrently.
func (m *Manager) OnSnapshot(snapshot string) {
	var wg sync.WaitGroup
	for _, p := range m.snapshot() {
		if p.hooks.onSnapshot == nil {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runWithTimeout(p.Name, hookOnSnapshot, func() {
				p.hooks.onSnapshot(snapshot)
			})
		}()
	}
	wg.Wait()
}

var commands = []string{"loadPlugin", "unloadPlugin", "listPlugins"}

// Commands satisfies registry.Feature. Besides the hook pipeline consulted
// directly by the dispatcher, the plugins feature exposes its load/unload
// lifecycle as ordinary dispatched commands.
func (m *Manager) Commands() []string { return commands }

// Handler satisfies registry.Feature.
func (m *Manager) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "loadPlugin":
		return m.handleLoadPlugin, true
	case "unloadPlugin":
		return m.handleUnloadPlugin, true
	case "listPlugins":
		return m.handleListPlugins, true
	default:
		return nil, false
	}
}

func (m *Manager) handleLoadPlugin(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("loadPlugin requires path")
	}
	if err := m.LoadPlugin(path); err != nil {
		return nil, err
	}
	return map[string]any{"loaded": pluginNameFromPath(path)}, nil
}

func (m *Manager) handleUnloadPlugin(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("unloadPlugin requires name")
	}
	m.UnloadPlugin(name)
	return map[string]any{"unloaded": name}, nil
}

func (m *Manager) handleListPlugins(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"plugins": m.Loaded()}, nil
}
