package orchestrator

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/browserd/browserd/internal/browrpc"
)

// pingStatus dials the daemon at addr, sends a "status" request carrying
// token, and reports whether it answered with an ok status. Used only for
// readiness polling; the real per-test work happens out of band as a
// separate test-runner process pointed at the same port.
func pingStatus(addr, token string, dialTimeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	line, err := json.Marshal(map[string]string{"token": token, "cmd": "status"})
	if err != nil {
		return false
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return false
	}

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return false
	}
	var parsed browrpc.Response
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return false
	}
	return parsed.Status == browrpc.StatusOK
}
