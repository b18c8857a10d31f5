package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/browserd/browserd/internal/state"
	"github.com/browserd/browserd/internal/util"
)

const (
	startTimeout       = 20 * time.Second
	healthPollInterval = 150 * time.Millisecond
)

// peer is one spawned browserd child process plus the identity needed to
// reach and later stop it.
type peer struct {
	alloc  Allocation
	addr   string
	token  string
	cmd    *exec.Cmd
	exited chan struct{}
}

// spawnPeer launches browserdBinary as a detached child process against
// alloc's instance ID and port, waits for it to accept connections and
// answer a "status" ping, and returns the handle used to run tests against
// it and to stop it afterward.
//
// Grounded on the teacher's startServer/waitForReady: exec.Command plus a
// detached Wait goroutine so the parent never blocks on the child's exit,
// followed by a bounded poll loop against a readiness check.
func spawnPeer(browserdBinary string, alloc Allocation) (*peer, error) {
	cmd := exec.Command(browserdBinary,
		"--port", fmt.Sprintf("%d", alloc.BrowserPort),
		"--instance", alloc.InstanceID,
	)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("BROWSER_INSTANCE=%s", alloc.InstanceID),
		fmt.Sprintf("BROWSER_PORT=%d", alloc.BrowserPort),
		fmt.Sprintf("VITE_PORT=%d", alloc.VitePort),
	)
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr
	util.SetDetachedProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn peer daemon %s: %w", alloc.InstanceID, err)
	}
	exited := make(chan struct{})
	go func() { _ = cmd.Wait(); close(exited) }()

	addr := fmt.Sprintf("127.0.0.1:%d", alloc.BrowserPort)
	token, err := waitForReady(alloc.InstanceID, addr)
	if err != nil {
		_ = cmd.Process.Kill()
		<-exited
		return nil, err
	}

	return &peer{alloc: alloc, addr: addr, token: token, cmd: cmd, exited: exited}, nil
}

// waitForReady polls for the instance's token file to appear (written at
// the very start of the daemon's entry flow) and then for the daemon to
// answer a status ping, up to startTimeout.
func waitForReady(instanceID, addr string) (token string, err error) {
	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		if token == "" {
			if t, readErr := state.ReadToken(instanceID); readErr == nil {
				token = t
			}
		}
		if token != "" && pingStatus(addr, token, healthPollInterval) {
			return token, nil
		}
		time.Sleep(healthPollInterval)
	}
	return "", fmt.Errorf("peer daemon %s did not become ready within %s", instanceID, startTimeout)
}

// stop sends the child process an interrupt equivalent and waits briefly;
// browserd's own SIGINT/SIGTERM handler closes the browser and deletes its
// rendezvous files before exiting.
func (p *peer) stop() {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}
