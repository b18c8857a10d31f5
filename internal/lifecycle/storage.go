package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserd/browserd/internal/state"
)

// StorageState is a Playwright-shaped storage state document: cookies plus
// per-origin localStorage entries. It is the unit persisted across
// start/close cycles.
type StorageState struct {
	Cookies []CookieState `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// CookieState mirrors the subset of proto.NetworkCookie that round-trips
// through JSON and back into proto.NetworkCookieParam.
type CookieState struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// OriginState holds one origin's localStorage and sessionStorage snapshot.
type OriginState struct {
	Origin         string            `json:"origin"`
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage,omitempty"`
}

// NamedState is a saveBrowserState/restoreBrowserState snapshot: a
// StorageState plus the URL it was captured from, so restoreBrowserState
// can navigate back to where the save happened.
type NamedState struct {
	StorageState
	URL string `json:"url"`
}

// corruptionSentinels are fragments that only ever appear in the agent's
// rendered page-snapshot output, never in a genuine storage-state JSON
// document. Their presence means some caller accidentally pointed this path
// at snapshot output instead of storage state, and the file must be
// rejected rather than fed to the browser.
var corruptionSentinels = []string{
	"=== SNAPSHOT",
	"[ref=e",
	"ELEMENT STATE",
	"ACCESSIBILITY TREE",
	"- document:",
	"- heading",
	"- button",
}

// looksCorrupt reports whether raw contains a snapshot-output sentinel,
// matched case-insensitively.
func looksCorrupt(raw []byte) bool {
	lower := strings.ToLower(string(raw))
	for _, sentinel := range corruptionSentinels {
		if strings.Contains(lower, strings.ToLower(sentinel)) {
			return true
		}
	}
	return false
}

// LoadStorageState reads and validates the instance's persisted storage
// state. It returns (nil, false, nil) if no file exists. If the file's
// content matches a corruption sentinel, it is deleted and (nil, true, nil)
// is returned so the caller starts clean instead of feeding garbage to the
// browser.
func LoadStorageState(instanceID string) (*StorageState, bool, error) {
	path, err := state.StorageStateFile(instanceID)
	if err != nil {
		return nil, false, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read storage state: %w", err)
	}

	if looksCorrupt(raw) {
		_ = os.Remove(path)
		return nil, true, nil
	}

	var st StorageState
	if err := json.Unmarshal(raw, &st); err != nil {
		_ = os.Remove(path)
		return nil, true, nil
	}
	return &st, false, nil
}

// SaveStorageState captures cookies, localStorage, and sessionStorage from
// page's context and persists them for the instance.
func SaveStorageState(instanceID string, page *rod.Page) error {
	path, err := state.StorageStateFile(instanceID)
	if err != nil {
		return err
	}
	st, err := captureStorageState(page)
	if err != nil {
		return err
	}
	return writeJSONFile(path, st)
}

// SaveNamedState captures the same snapshot as SaveStorageState plus
// page's current URL, and persists it under the instance's named-states
// directory for later restoreBrowserState/listBrowserStates use.
func SaveNamedState(instanceID, name string, page *rod.Page) error {
	path, err := state.NamedStateFile(instanceID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create states directory: %w", err)
	}
	st, err := captureStorageState(page)
	if err != nil {
		return err
	}
	url := ""
	if info, infoErr := page.Info(); infoErr == nil {
		url = info.URL
	}
	return writeJSONFile(path, NamedState{StorageState: st, URL: url})
}

// LoadNamedState reads and validates a user-named saved state, applying
// the same corruption-sentinel defense as LoadStorageState. Returns a
// handler_domain-flavored error if name does not exist.
func LoadNamedState(instanceID, name string) (*NamedState, error) {
	path, err := state.NamedStateFile(instanceID, name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no saved state named %q", name)
		}
		return nil, fmt.Errorf("read saved state %q: %w", name, err)
	}
	if looksCorrupt(raw) {
		_ = os.Remove(path)
		return nil, fmt.Errorf("saved state %q was corrupt and has been deleted", name)
	}
	var ns NamedState
	if err := json.Unmarshal(raw, &ns); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("saved state %q was corrupt and has been deleted", name)
	}
	return &ns, nil
}

// ListNamedStates returns the names of every saved state for instanceID,
// sorted alphabetically. A missing states directory is not an error.
func ListNamedStates(instanceID string) ([]string, error) {
	dir, err := state.StatesDir(instanceID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list saved states: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func captureStorageState(page *rod.Page) (StorageState, error) {
	var st StorageState
	cookies, err := page.Cookies(nil)
	if err != nil {
		return st, fmt.Errorf("read cookies: %w", err)
	}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, CookieState{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	origin, local, session, err := readStorages(page)
	if err == nil && origin != "" && (len(local) > 0 || len(session) > 0) {
		st.Origins = append(st.Origins, OriginState{Origin: origin, LocalStorage: local, SessionStorage: session})
	}
	return st, nil
}

func readStorages(page *rod.Page) (origin string, local, session map[string]string, err error) {
	res, err := page.Eval(`() => ({
		origin: window.location.origin,
		local: Object.fromEntries(Object.entries(window.localStorage)),
		session: Object.fromEntries(Object.entries(window.sessionStorage))
	})`)
	if err != nil {
		return "", nil, nil, err
	}
	var parsed struct {
		Origin  string            `json:"origin"`
		Local   map[string]string `json:"local"`
		Session map[string]string `json:"session"`
	}
	if err := res.Value.Unmarshal(&parsed); err != nil {
		return "", nil, nil, err
	}
	return parsed.Origin, parsed.Local, parsed.Session, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ApplyStorageState injects cookies and localStorage from st into page's
// context before any navigation a caller intends to perform.
func ApplyStorageState(page *rod.Page, st *StorageState) error {
	if st == nil {
		return nil
	}

	if len(st.Cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(st.Cookies))
		for _, c := range st.Cookies {
			params = append(params, &proto.NetworkCookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  proto.TimeSinceEpoch(c.Expires),
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		if err := page.SetCookies(params); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}

	for _, o := range st.Origins {
		if err := page.Navigate(o.Origin); err != nil {
			continue
		}
		_ = page.WaitLoad()
		for k, v := range o.LocalStorage {
			_, _ = page.Eval(`(k, v) => window.localStorage.setItem(k, v)`, k, v)
		}
		for k, v := range o.SessionStorage {
			_, _ = page.Eval(`(k, v) => window.sessionStorage.setItem(k, v)`, k, v)
		}
	}
	return nil
}
