// paths.go — resolves per-instance filesystem locations for daemon runtime
// artifacts: PID/port/token files, persisted storage state, named browser
// states, and HAR exports.
//
// Layout (relative to BaseDir()):
//
//	manager.pid             default instance PID file
//	manager.port            default instance listening-port file
//	session.token           default instance session token, mode 0600
//	browser-state.json      default instance persisted storage state
//	states/<name>.json      user-named saved browser states
//	har-exports/*.har       HAR 1.2 dumps
//
// A non-default instance ID gets its own subtree under instances/<id>/ with
// the same file names, so two instances never collide.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// BaseDirEnv overrides the default runtime state root.
	BaseDirEnv = "BROWSER_STATE_DIR"

	// DefaultInstanceID is the instance ID used when BROWSER_INSTANCE is unset.
	DefaultInstanceID = "default"

	defaultBaseDirName = "BROWSER-CLI"

	pidFileName     = "manager.pid"
	portFileName    = "manager.port"
	tokenFileName   = "session.token"
	storageFileName  = "browser-state.json"
	statesDirName    = "states"
	harDirName       = "har-exports"
	evidenceFileName = "evidence-chain.db"
)

// BaseDir returns the runtime state root. Resolution order:
//  1. BROWSER_STATE_DIR, if set
//  2. ./BROWSER-CLI under the current working directory
func BaseDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(BaseDirEnv)); override != "" {
		return normalizePath(override)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot determine working directory: %w", err)
	}
	return filepath.Join(cwd, defaultBaseDirName), nil
}

// InstanceDir returns the state directory for the given instance ID.
// The default instance uses BaseDir() directly; any other ID is isolated
// under instances/<id>/.
func InstanceDir(instanceID string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	if instanceID == "" || instanceID == DefaultInstanceID {
		return base, nil
	}
	return filepath.Join(base, "instances", instanceID), nil
}

// EnsureInstanceDir creates the instance's state directory (and its
// ancestors) if it does not already exist.
func EnsureInstanceDir(instanceID string) (string, error) {
	dir, err := InstanceDir(instanceID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state directory %q: %w", dir, err)
	}
	return dir, nil
}

// PIDFile returns the PID file path for the instance.
func PIDFile(instanceID string) (string, error) { return inInstance(instanceID, pidFileName) }

// PortFile returns the listening-port file path for the instance.
func PortFile(instanceID string) (string, error) { return inInstance(instanceID, portFileName) }

// TokenFile returns the session-token file path for the instance.
func TokenFile(instanceID string) (string, error) { return inInstance(instanceID, tokenFileName) }

// StorageStateFile returns the persisted browser storage-state file path.
func StorageStateFile(instanceID string) (string, error) {
	return inInstance(instanceID, storageFileName)
}

// StatesDir returns the directory holding user-named saved browser states.
func StatesDir(instanceID string) (string, error) {
	return inInstance(instanceID, statesDirName)
}

// NamedStateFile returns the path for a user-named saved browser state.
// Rejects names that would escape StatesDir via path traversal.
func NamedStateFile(instanceID, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid state name %q", name)
	}
	dir, err := StatesDir(instanceID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".json"), nil
}

// HARExportsDir returns the directory holding exported HAR files.
func HARExportsDir(instanceID string) (string, error) {
	return inInstance(instanceID, harDirName)
}

// EvidenceDBFile returns the SQLite database path backing the evidence
// chain feature.
func EvidenceDBFile(instanceID string) (string, error) {
	return inInstance(instanceID, evidenceFileName)
}

func inInstance(instanceID string, parts ...string) (string, error) {
	dir, err := InstanceDir(instanceID)
	if err != nil {
		return "", err
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, dir)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
