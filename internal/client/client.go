// Package client routes one command per invocation: through the broker when
// one is reachable (reset avoidance), else directly through the gate
// (availability at the cost of a reset per lock holder).
package client

import (
	"fmt"
	"time"

	"github.com/fcefyn/hilrelay/internal/config"
	"github.com/fcefyn/hilrelay/internal/gate"
	"github.com/fcefyn/hilrelay/internal/ipc"
	"github.com/fcefyn/hilrelay/internal/logging"
	"github.com/fcefyn/hilrelay/internal/protocol"
)

const exchangeTimeout = 30 * time.Second

type Result struct {
	Success   bool
	Response  string
	Error     string
	ViaBroker bool
}

type Client struct {
	cfg  *config.Config
	gate *gate.Gate
}

func New(cfg *config.Config) *Client {
	return &Client{cfg: cfg, gate: gate.New(cfg)}
}

// Run validates and encodes the command, probes for a broker once, and
// executes over the chosen path. Validation failures never reach the
// device. Multi-channel operations ride in a single line so the firmware
// applies them atomically.
func (c *Client) Run(cmd protocol.Command) (Result, error) {
	line, err := cmd.Encode()
	if err != nil {
		return Result{}, err
	}

	if ipc.Probe(c.cfg.SocketPath) {
		logging.Debug("routing via broker", "socket", c.cfg.SocketPath)
		return c.runViaBroker(line)
	}
	logging.Debug("no broker, routing via gate", "lock", c.cfg.LockPath())
	return c.runViaGate(line)
}

func (c *Client) runViaBroker(line string) (Result, error) {
	resp, err := ipc.Exchange(c.cfg.SocketPath, line, exchangeTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("broker exchange: %w", err)
	}
	return Result{
		Success:   resp.Success,
		Response:  resp.Response,
		Error:     resp.Error,
		ViaBroker: true,
	}, nil
}

func (c *Client) runViaGate(line string) (Result, error) {
	resp, err := c.gate.Execute(line)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: resp.Ok(), Response: resp.Raw()}, nil
}

// Status runs STATUS and parses the channel map from the reply.
func (c *Client) Status() (Result, *protocol.Snapshot, error) {
	res, err := c.Run(protocol.Status())
	if err != nil {
		return res, nil, err
	}
	snap, ok := protocol.ParseStatusText(res.Response)
	if !ok {
		return res, nil, nil
	}
	return res, snap, nil
}

// Close releases the gate's cached connection, if this invocation used one.
func (c *Client) Close() {
	c.gate.Close()
}
