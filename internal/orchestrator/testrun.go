package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// defaultTestTimeout matches spec's per-test default.
const defaultTestTimeout = 60 * time.Second

// TestResult is the outcome of running one discovered test file against
// one peer instance.
type TestResult struct {
	Path       string
	InstanceID string
	Passed     bool
	Errored    bool
	Message    string
	DurationMS int64
}

// DiscoverTests expands pattern (a filepath.Glob pattern) into a sorted
// list of test file paths.
func DiscoverTests(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("discover tests: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// runTest executes testFile as a subprocess of testRunner, with the peer
// daemon's port/instance/vite-port exposed via environment variables so
// the test can dial the already-running browserd and the page it serves.
// Exit code zero is a pass and any other exit is a failure; the per-test
// timeout firing first is recorded as an error (Errored), not a failure.
func runTest(ctx context.Context, testRunner, testFile string, p *peer, timeout time.Duration) TestResult {
	if timeout <= 0 {
		timeout = defaultTestTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, testRunner, testFile)
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("BROWSER_INSTANCE=%s", p.alloc.InstanceID),
		fmt.Sprintf("BROWSER_PORT=%d", p.alloc.BrowserPort),
		fmt.Sprintf("VITE_PORT=%d", p.alloc.VitePort),
		fmt.Sprintf("BROWSER_SESSION_TOKEN=%s", p.token),
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	elapsed := time.Since(start)

	result := TestResult{
		Path:       testFile,
		InstanceID: p.alloc.InstanceID,
		DurationMS: elapsed.Milliseconds(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Errored = true
		result.Message = fmt.Sprintf("test timed out after %s", timeout)
	case err != nil:
		result.Passed = false
		result.Message = firstLines(out.String(), 20)
	default:
		result.Passed = true
	}
	return result
}

func firstLines(s string, n int) string {
	lines := bytes.SplitN([]byte(s), []byte("\n"), n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	out := bytes.Join(lines, []byte("\n"))
	if len(out) > 2000 {
		out = out[:2000]
	}
	return string(out)
}
