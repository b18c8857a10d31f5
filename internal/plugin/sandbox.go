// sandbox.go restricts plugin loading to a single allow-listed directory,
// using the same Clean → IsAbs → EvalSymlinks → denylist chain the teacher
// applies to upload directories, adapted from "upload directory" to
// "plugin directory".
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// denyPattern is a resolved absolute path prefix that a plugin file must
// never live under, regardless of being inside the plugins directory.
type denyPattern struct {
	prefix  string
	display string
}

var builtinDeny []denyPattern

func init() {
	home, _ := os.UserHomeDir()
	if home != "" {
		for _, rel := range []string{".ssh", ".aws", ".gnupg", ".config/gcloud"} {
			builtinDeny = append(builtinDeny, denyPattern{
				prefix:  filepath.Join(home, rel),
				display: "~/" + rel,
			})
		}
	}
	for _, abs := range []string{"/etc", "/root", "/var/run/secrets"} {
		builtinDeny = append(builtinDeny, denyPattern{prefix: abs, display: abs})
	}
}

// ValidatePluginsDir resolves and validates the configured plugin
// directory at startup: must be an absolute, existing directory, not a
// symlink, and outside the built-in denylist.
func ValidatePluginsDir(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if !filepath.IsAbs(raw) {
		return "", fmt.Errorf("plugins directory must be an absolute path, got: %s", raw)
	}
	info, err := os.Stat(raw)
	if err != nil {
		return "", fmt.Errorf("plugins directory does not exist: %s: %w", raw, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("plugins directory is not a directory: %s", raw)
	}
	resolved, err := filepath.EvalSymlinks(raw)
	if err != nil {
		return "", fmt.Errorf("plugins directory: failed to resolve symlinks: %w", err)
	}
	if resolved != filepath.Clean(raw) {
		return "", fmt.Errorf("plugins directory must not be a symlink: %s resolves to %s", raw, resolved)
	}
	if pattern, matched := matchesDenylist(resolved); matched {
		return "", fmt.Errorf("plugins directory matches a sensitive path pattern %q: %s", pattern, raw)
	}
	return resolved, nil
}

// ValidatePluginPath resolves raw and verifies it is a .go file inside
// pluginsDir and outside the denylist. Returns the resolved, safe-to-read
// absolute path.
func ValidatePluginPath(raw, pluginsDir string) (string, error) {
	if pluginsDir == "" {
		return "", fmt.Errorf("plugin loading is disabled: no plugins directory configured")
	}
	cleaned := filepath.Clean(raw)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("plugin path must be absolute: %s", raw)
	}
	resolved, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		return "", fmt.Errorf("plugin file not found: %s: %w", raw, err)
	}
	if strings.ToLower(filepath.Ext(resolved)) != ".go" {
		return "", fmt.Errorf("plugin file must have a .go extension: %s", raw)
	}
	if pattern, matched := matchesDenylist(resolved); matched {
		return "", fmt.Errorf("plugin path %q is not allowed: matches sensitive path pattern %q", raw, pattern)
	}
	if !isWithinDir(resolved, pluginsDir) {
		return "", fmt.Errorf("plugin path %q is outside the plugins directory (%s)", raw, pluginsDir)
	}
	return resolved, nil
}

func isWithinDir(path, dir string) bool {
	dirWithSep := dir
	if !strings.HasSuffix(dirWithSep, string(filepath.Separator)) {
		dirWithSep += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dirWithSep) || path == dir
}

func matchesDenylist(resolved string) (string, bool) {
	for _, dp := range builtinDeny {
		if resolved == dp.prefix || strings.HasPrefix(resolved, dp.prefix+string(filepath.Separator)) {
			return dp.display, true
		}
	}
	return "", false
}
