// Package lifecycle owns the single browser/context/page triple and the
// {stopped, running} state machine around it. It is the only component
// permitted to replace the page or context; every other feature must
// re-read them through the Lifecycle accessor after a re-initialization
// signal (start, setHeadless restart, recreateContext).
//
// The external automation library is go-rod (github.com/go-rod/rod),
// grounded on the launcher/headless/viewport wiring in
// theRebelliousNerd-codenerd's internal/browser/session_manager.go.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config holds the browser's mutable configuration.
type Config struct {
	ViewportWidth  int
	ViewportHeight int
	Headless       bool
}

// DefaultConfig matches spec: 2560x1440, headless off.
func DefaultConfig() Config {
	return Config{ViewportWidth: 2560, ViewportHeight: 1440, Headless: false}
}

const fixedUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) browserd/1.0 Safari/537.36"

type runState int

const (
	stateStopped runState = iota
	stateRunning
)

// Status is a point-in-time read of the lifecycle for the "status" command.
type Status struct {
	Running bool   `json:"running"`
	URL     any    `json:"url"`
	HasPage bool   `json:"hasPage"`
}

// Lifecycle owns browser/context/page and implements the start/close/
// setHeadless/recreateContext/setPage state machine.
type Lifecycle struct {
	mu sync.Mutex

	instanceID string
	log        *zap.SugaredLogger

	cfg   Config
	state runState

	root    *rod.Browser // the launched root connection
	browser *rod.Browser // the current (possibly incognito) context
	page    *rod.Page

	currentURL          string
	startTime           time.Time
	featuresInitialized bool
	sessionID           string
}

// New creates a Lifecycle for instanceID, not yet started.
func New(instanceID string, cfg Config, log *zap.SugaredLogger) *Lifecycle {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Lifecycle{
		instanceID: instanceID,
		log:        log,
		cfg:        cfg,
		state:      stateStopped,
		startTime:  time.Now(),
	}
}

// SetSessionID enables session-scoped close: a close request bearing a
// different session ID is rejected.
func (l *Lifecycle) SetSessionID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = id
}

// SessionID returns the configured session ID, or "" if none was set.
func (l *Lifecycle) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// Running reports whether the browser is currently started.
func (l *Lifecycle) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateRunning
}

// FeaturesInitialized reports the guard invariant: false whenever page is
// absent.
func (l *Lifecycle) FeaturesInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.featuresInitialized
}

// MarkFeaturesInitialized flips the guard once the registry has finished
// (re)initializing the feature set against the current page.
func (l *Lifecycle) MarkFeaturesInitialized() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.page != nil {
		l.featuresInitialized = true
	}
}

// Page returns the current page, or nil if absent. Features must call this
// after every re-initialization signal rather than caching the pointer.
func (l *Lifecycle) Page() *rod.Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page
}

// Context returns the current browser context (an incognito *rod.Browser).
func (l *Lifecycle) Context() *rod.Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.browser
}

// CurrentURL returns the last navigated-to URL, or "" if none.
func (l *Lifecycle) CurrentURL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentURL
}

// StatusSnapshot returns a point-in-time view for the "status" command.
func (l *Lifecycle) StatusSnapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var url any
	if l.currentURL != "" {
		url = l.currentURL
	}
	return Status{
		Running: l.state == stateRunning,
		URL:     url,
		HasPage: l.page != nil,
	}
}

// Start launches the browser (precondition: stopped), builds a fresh
// context with the configured viewport and fixed user agent, validates and
// optionally injects persisted storage state, opens one page, and
// navigates to url, then waits (WaitDOMStable) for the DOM to stay
// unchanged for two seconds. It does not wait for network activity to go
// idle, and a wait that does not settle is logged, not returned.
func (l *Lifecycle) Start(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked(url)
}

func (l *Lifecycle) startLocked(url string) error {
	if l.state == stateRunning {
		return fmt.Errorf("lifecycle: already running")
	}

	launchURL, err := launcher.New().Headless(l.cfg.Headless).Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	root := rod.New().ControlURL(launchURL)
	if err := root.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}

	browserCtx, err := root.Incognito()
	if err != nil {
		_ = root.Close()
		return fmt.Errorf("create browser context: %w", err)
	}

	page, err := browserCtx.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = root.Close()
		return fmt.Errorf("open page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  l.cfg.ViewportWidth,
		Height: l.cfg.ViewportHeight,
	}); err != nil {
		l.log.Warnw("set viewport failed", "error", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: fixedUserAgent}); err != nil {
		l.log.Warnw("set user agent failed", "error", err)
	}

	stored, corrupt, loadErr := LoadStorageState(l.instanceID)
	if loadErr != nil {
		l.log.Warnw("storage state load failed, starting clean", "error", loadErr)
	}
	if corrupt {
		l.log.Warnw("storage state rejected as corrupt, deleted, starting clean")
	}
	if stored != nil {
		if err := ApplyStorageState(page, stored); err != nil {
			l.log.Warnw("storage state apply failed, starting clean", "error", err)
		}
	}

	if err := page.Navigate(url); err != nil {
		_ = root.Close()
		return fmt.Errorf("navigate to %q: %w", url, err)
	}
	if err := page.WaitDOMStable(2*time.Second, 0); err != nil {
		l.log.Debugw("DOM-stability wait did not settle cleanly", "error", err)
	}

	l.root = root
	l.browser = browserCtx
	l.page = page
	l.currentURL = url
	l.state = stateRunning
	l.featuresInitialized = false

	return nil
}

// EnsureBrowserStarted is a no-op if running; otherwise starts at
// defaultURL.
func (l *Lifecycle) EnsureBrowserStarted(defaultURL string) error {
	if defaultURL == "" {
		defaultURL = "about:blank"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateRunning {
		return nil
	}
	return l.startLocked(defaultURL)
}

// Close saves storage state, closes the browser, and resets all handles.
// startTime is preserved. A no-op if already stopped.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Lifecycle) closeLocked() error {
	if l.state != stateRunning {
		return nil
	}
	if l.page != nil {
		if err := SaveStorageState(l.instanceID, l.page); err != nil {
			l.log.Warnw("save storage state failed", "error", err)
		}
	}
	if l.root != nil {
		if err := l.root.Close(); err != nil {
			l.log.Warnw("close browser failed", "error", err)
		}
	}
	l.root = nil
	l.browser = nil
	l.page = nil
	l.currentURL = ""
	l.state = stateStopped
	l.featuresInitialized = false
	return nil
}

// SetHeadlessResult is returned by SetHeadless.
type SetHeadlessResult struct {
	Restarted     bool `json:"restarted"`
	PreviousValue bool `json:"previousValue"`
}

// SetHeadless is a no-op if flag matches the current config; otherwise it
// updates the config and, if running, closes and restarts at currentURL.
func (l *Lifecycle) SetHeadless(flag bool) (SetHeadlessResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	previous := l.cfg.Headless
	if previous == flag {
		return SetHeadlessResult{Restarted: false, PreviousValue: previous}, nil
	}

	l.cfg.Headless = flag
	wasRunning := l.state == stateRunning
	urlToRestore := l.currentURL

	if !wasRunning {
		return SetHeadlessResult{Restarted: false, PreviousValue: previous}, nil
	}

	if err := l.closeLocked(); err != nil {
		return SetHeadlessResult{}, err
	}
	if urlToRestore == "" {
		urlToRestore = "about:blank"
	}
	if err := l.startLocked(urlToRestore); err != nil {
		return SetHeadlessResult{}, err
	}
	return SetHeadlessResult{Restarted: true, PreviousValue: previous}, nil
}

// ContextOptions configures RecreateContext, e.g. enabling video recording.
type ContextOptions struct {
	RecordVideo bool
}

// RecreateContext saves storage state, closes only the context (not the
// root browser process), builds a new context with the configured viewport
// and any validated storage state, opens a page, and navigates back to the
// prior URL unless it was about:blank. Preconditions: running.
//
// opts is accepted but not applied: the new context gets no options from
// it, so RecordVideo does not start any recording, and the fixed user
// agent that Start sets is not set on the new page.
func (l *Lifecycle) RecreateContext(opts ContextOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != stateRunning {
		return fmt.Errorf("lifecycle: recreateContext requires a running browser")
	}

	priorURL := l.currentURL
	if l.page != nil {
		if err := SaveStorageState(l.instanceID, l.page); err != nil {
			l.log.Warnw("save storage state before context recreate failed", "error", err)
		}
	}
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			l.log.Warnw("close context failed", "error", err)
		}
	}

	newCtx, err := l.root.Incognito()
	if err != nil {
		return fmt.Errorf("recreate context: %w", err)
	}

	page, err := newCtx.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open page in recreated context: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  l.cfg.ViewportWidth,
		Height: l.cfg.ViewportHeight,
	}); err != nil {
		l.log.Warnw("set viewport after recreate failed", "error", err)
	}

	stored, corrupt, loadErr := LoadStorageState(l.instanceID)
	if loadErr != nil {
		l.log.Warnw("storage state load failed during recreate", "error", loadErr)
	}
	if corrupt {
		l.log.Warnw("storage state rejected as corrupt during recreate")
	}
	if stored != nil {
		if err := ApplyStorageState(page, stored); err != nil {
			l.log.Warnw("storage state apply failed during recreate", "error", err)
		}
	}

	target := priorURL
	if target == "" || target == "about:blank" {
		target = "about:blank"
	}
	if err := page.Navigate(target); err != nil {
		return fmt.Errorf("navigate recreated context to %q: %w", target, err)
	}

	l.browser = newCtx
	l.page = page
	l.currentURL = target
	l.featuresInitialized = false
	_ = opts // not applied; no feature in this build records video
	return nil
}

// SetPage updates the current page reference (used by tab-switching
// features) without touching the context.
func (l *Lifecycle) SetPage(page *rod.Page, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.page = page
	l.currentURL = url
}

// StartTime returns the process start time, preserved across Close/Start
// cycles.
func (l *Lifecycle) StartTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startTime
}
