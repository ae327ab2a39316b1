// Package ipc defines the one-shot unix-socket exchange between a caller
// and the broker daemon: exactly one request and one response per
// connection, then the connection closes.
package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ProbeTimeout bounds the broker reachability check.
const ProbeTimeout = 250 * time.Millisecond

// Probe reports whether a broker is listening on the socket.
func Probe(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, ProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Exchange opens a fresh connection, sends one encoded request and reads
// one response. The deadline covers the whole exchange, device execution
// included.
func Exchange(socketPath, command string, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := json.NewEncoder(conn).Encode(Request{Command: command}); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read broker reply: %w", err)
	}
	return resp, nil
}
