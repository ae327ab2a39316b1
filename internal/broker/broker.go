// Package broker implements the long-lived daemon that exclusively owns the
// serial connection and serves it over a one-shot unix-socket IPC.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fcefyn/hilrelay/internal/config"
	"github.com/fcefyn/hilrelay/internal/ipc"
	"github.com/fcefyn/hilrelay/internal/logging"
	"github.com/fcefyn/hilrelay/internal/messaging"
	"github.com/fcefyn/hilrelay/internal/protocol"
	"github.com/fcefyn/hilrelay/internal/relay"
)

// ErrAlreadyRunning is returned when a live broker instance holds the pidfile.
var ErrAlreadyRunning = errors.New("broker already running")

const (
	acceptPoll     = 1 * time.Second
	requestTimeout = 30 * time.Second
	maxRequestSize = 4096
)

// deviceLink is what the broker needs from the serial connection.
type deviceLink interface {
	Execute(line string) (protocol.Response, error)
	Close() error
}

type Broker struct {
	cfg      *config.Config
	registry *relay.Registry
	openLink func() (deviceLink, error)

	link   deviceLink
	linkMu sync.Mutex // at most one in-flight device command

	listener  *net.UnixListener
	running   atomic.Bool
	workerMu  sync.Mutex // orders worker registration against shutdown
	wg        sync.WaitGroup
	publisher *messaging.RelayPublisher
}

func New(cfg *config.Config) *Broker {
	b := &Broker{cfg: cfg, registry: relay.NewRegistry()}
	b.openLink = func() (deviceLink, error) {
		return b.registry.Acquire(relay.Options{
			Path:    cfg.Port,
			Baud:    cfg.Baud,
			Timeout: cfg.Timeout(),
			Settle:  cfg.Settle(),
		})
	}
	return b
}

// Start claims the pidfile, opens and verifies the serial link, and binds
// the IPC endpoint. It does not serve; call Serve after.
func (b *Broker) Start() error {
	if pid, alive := CheckPidfile(b.cfg.PidPath); alive {
		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, pid)
	}

	link, err := b.openLink()
	if err != nil {
		return err
	}
	b.link = link

	// A dead broker leaves its socket node behind; rebind over it.
	_ = os.Remove(b.cfg.SocketPath)
	addr, err := net.ResolveUnixAddr("unix", b.cfg.SocketPath)
	if err != nil {
		b.closeLink()
		return fmt.Errorf("resolve socket addr: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		b.closeLink()
		return fmt.Errorf("bind socket: %w", err)
	}
	b.listener = ln
	if err := os.Chmod(b.cfg.SocketPath, 0o666); err != nil {
		logging.Warn("socket chmod", "path", b.cfg.SocketPath, "error", err)
	}

	if err := WritePidfile(b.cfg.PidPath); err != nil {
		ln.Close()
		b.closeLink()
		return fmt.Errorf("write pidfile: %w", err)
	}

	b.startPublisher()

	b.running.Store(true)
	logging.Info("broker started", "pid", os.Getpid(), "port", b.cfg.Port, "socket", b.cfg.SocketPath)
	return nil
}

func (b *Broker) startPublisher() {
	if b.cfg.MQTT.URL == "" {
		return
	}
	p := messaging.NewRelayPublisher(messaging.BrokerConfig{
		BrokerURL:      b.cfg.MQTT.URL,
		ClientName:     b.cfg.MQTT.ClientName,
		TopicPrefix:    b.cfg.MQTT.TopicPrefix,
		ConnectTimeout: b.cfg.MQTT.ConnectTimeout(),
		PublishTimeout: b.cfg.MQTT.PublishTimeout(),
	}, b.cfg.MQTT.HeartbeatInterval())

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.MQTT.ConnectTimeout())
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		logging.Warn("mqtt connect failed, state publishing disabled", "url", b.cfg.MQTT.URL, "error", err)
		return
	}
	b.publisher = p
}

// Serve accepts connections until Shutdown. Each accepted connection gets
// its own worker so one slow client cannot block others from connecting.
func (b *Broker) Serve() {
	for b.running.Load() {
		_ = b.listener.SetDeadline(time.Now().Add(acceptPoll))
		conn, err := b.listener.Accept()
		if err != nil {
			if os.IsTimeout(err) || errors.Is(err, net.ErrClosed) {
				continue
			}
			if b.running.Load() {
				logging.Error("accept", "error", err)
			}
			continue
		}
		// Register the worker under the lock so Shutdown cannot pass
		// wg.Wait between the accept and the Add.
		b.workerMu.Lock()
		if !b.running.Load() {
			b.workerMu.Unlock()
			conn.Close()
			continue
		}
		b.wg.Add(1)
		b.workerMu.Unlock()
		go b.handleConn(conn)
	}
}

// handleConn runs the one-shot protocol: read one request, execute it,
// write one response, close.
func (b *Broker) handleConn(conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("request handler panic", "panic", r)
			writeResponse(conn, ipc.Response{Success: false, Error: "internal error"})
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	var req ipc.Request
	if err := json.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		writeResponse(conn, ipc.Response{Success: false, Error: "malformed request: " + err.Error()})
		return
	}
	writeResponse(conn, b.Execute(req.Command))
}

func writeResponse(conn net.Conn, resp ipc.Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		logging.Warn("response write", "error", err)
	}
}

// Execute serializes device access under the link mutex. An I/O error
// becomes a structured failure; the link is kept open, a failed exchange is
// treated as transient noise, not link death.
func (b *Broker) Execute(command string) ipc.Response {
	if strings.TrimSpace(command) == "" {
		return ipc.Response{Success: false, Error: "no command"}
	}

	resp, err := b.executeLocked(command)
	if err != nil {
		logging.Warn("command failed", "command", command, "error", err)
		return ipc.Response{Success: false, Error: err.Error()}
	}

	b.maybePublish(resp)

	logging.Debug("command executed", "command", command, "outcome", resp.Outcome.String())
	return ipc.Response{Success: resp.Ok(), Response: resp.Raw()}
}

// executeLocked serializes device access. The deferred unlock holds even
// when the link panics.
func (b *Broker) executeLocked(command string) (protocol.Response, error) {
	b.linkMu.Lock()
	defer b.linkMu.Unlock()
	return b.link.Execute(command)
}

func (b *Broker) maybePublish(resp protocol.Response) {
	if b.publisher == nil {
		return
	}
	snap, ok := protocol.ParseStatus(resp)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.MQTT.PublishTimeout())
	defer cancel()
	if err := b.publisher.PublishSnapshot(ctx, b.cfg.Port, snap); err != nil {
		logging.Warn("state publish failed", "error", err)
	}
}

// Shutdown stops serving, releases the link and removes the arbitration
// artifacts. Every step ignores "already absent"; calling twice is safe.
func (b *Broker) Shutdown() {
	b.workerMu.Lock()
	wasRunning := b.running.Swap(false)
	b.workerMu.Unlock()
	if !wasRunning && b.listener == nil {
		return
	}
	logging.Info("broker shutting down")

	if b.listener != nil {
		_ = b.listener.Close()
	}
	b.wg.Wait()

	if b.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = b.publisher.Close(ctx)
		cancel()
		b.publisher = nil
	}

	b.closeLink()
	_ = os.Remove(b.cfg.SocketPath)
	RemovePidfile(b.cfg.PidPath)
}

func (b *Broker) closeLink() {
	if b.link != nil {
		_ = b.link.Close()
		b.link = nil
	}
	b.registry.CloseAll()
}
