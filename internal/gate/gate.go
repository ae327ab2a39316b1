// Package gate is the fallback arbitration path used when no broker is
// running: an OS advisory file lock lets exactly one process at a time own
// the serial connection across independently launched invocations.
package gate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"github.com/fcefyn/hilrelay/internal/config"
	"github.com/fcefyn/hilrelay/internal/logging"
	"github.com/fcefyn/hilrelay/internal/protocol"
	"github.com/fcefyn/hilrelay/internal/relay"
)

// ErrContention means a peer process holds the device lock right now.
var ErrContention = errors.New("gate: device held by peer")

const (
	maxAttempts = 3
	retryDelay  = 250 * time.Millisecond
)

// deviceLink is what the gate needs from the serial connection.
type deviceLink interface {
	Execute(line string) (protocol.Response, error)
}

// Gate mediates direct device access through a lock file keyed by device
// path. This only prevents two processes from writing to the port at the
// same instant; it cannot avoid the reset penalty across invocations unless
// the lock holder stays resident.
type Gate struct {
	cfg      *config.Config
	registry *relay.Registry
	lock     *flock.Flock
	mu       sync.Mutex

	acquire func() (deviceLink, error)
	discard func()
}

func New(cfg *config.Config) *Gate {
	g := &Gate{
		cfg:      cfg,
		registry: relay.NewRegistry(),
		lock:     flock.New(cfg.LockPath()),
	}
	g.acquire = func() (deviceLink, error) {
		return g.registry.Acquire(relay.Options{
			Path:    cfg.Port,
			Baud:    cfg.Baud,
			Timeout: cfg.Timeout(),
			Settle:  cfg.Settle(),
		})
	}
	g.discard = func() { g.registry.Discard(cfg.Port) }
	return g
}

// Execute runs one command with bounded retries: contention and I/O errors
// back off and retry, connect failures surface immediately. The lock is
// held only for the duration of a single command so peers are not starved.
func (g *Gate) Execute(command string) (protocol.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var resp protocol.Response
	op := func() error {
		r, err := g.tryOnce(command)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), maxAttempts-1)
	if err := backoff.Retry(op, bo); err != nil {
		return protocol.Response{}, err
	}
	return resp, nil
}

func (g *Gate) tryOnce(command string) (protocol.Response, error) {
	locked, err := g.lock.TryLock()
	if err != nil {
		return protocol.Response{}, fmt.Errorf("lock %s: %w", g.cfg.LockPath(), err)
	}
	if !locked {
		logging.Debug("device lock held by peer", "lock", g.cfg.LockPath())
		return protocol.Response{}, ErrContention
	}
	defer func() {
		if err := g.lock.Unlock(); err != nil {
			logging.Warn("lock release", "lock", g.cfg.LockPath(), "error", err)
		}
	}()

	link, err := g.acquire()
	if err != nil {
		// Device unreachable or wrong firmware; retrying will not help.
		return protocol.Response{}, backoff.Permanent(err)
	}

	resp, err := link.Execute(command)
	if err != nil {
		// Discard the cached connection so the next attempt, by us or a
		// peer, starts from a clean open.
		g.discard()
		return protocol.Response{}, fmt.Errorf("device exchange: %w", err)
	}
	return resp, nil
}

// Close releases the cached connection, if any.
func (g *Gate) Close() {
	g.registry.CloseAll()
}
