// Package relay owns the physical serial connection to the relay module.
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goburrow/serial"

	"github.com/fcefyn/hilrelay/internal/logging"
	"github.com/fcefyn/hilrelay/internal/protocol"
)

// portHandle is the subset of the serial driver the link needs.
type portHandle interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// allow tests to override the port opener
var openPort = func(cfg *serial.Config) (portHandle, error) { return serial.Open(cfg) }

// ErrConnect marks an unreachable device or a handshake mismatch.
var ErrConnect = errors.New("relay: connect failed")

// ErrTimeout marks a read that produced no data within the configured bound.
var ErrTimeout error = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "relay: read timeout" }
func (*timeoutError) Timeout() bool { return true }

type Options struct {
	Path    string
	Baud    int
	Timeout time.Duration
	Settle  time.Duration // wait after open so the firmware auto-reset finishes
}

// Link is one open serial connection. It is exclusively owned by whichever
// process holds it and is never shared by two processes at once; callers
// serialize access themselves.
type Link struct {
	opts Options
	port portHandle
	rbuf []byte // bytes read past the last newline
	open bool
}

// Open connects, waits out the auto-reset, drains boot noise and verifies
// the firmware with an ID handshake.
func Open(opts Options) (*Link, error) {
	port, err := openPort(&serial.Config{
		Address:  opts.Path,
		BaudRate: opts.Baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnect, opts.Path, err)
	}
	l := &Link{opts: opts, port: port, open: true}

	if opts.Settle > 0 {
		time.Sleep(opts.Settle)
	}
	l.drain()

	if err := l.handshake(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Link) handshake() error {
	line, err := protocol.ID().Encode()
	if err != nil {
		return err
	}
	resp, err := l.Execute(line)
	if err != nil {
		return fmt.Errorf("%w: handshake: %v", ErrConnect, err)
	}
	if !strings.Contains(resp.Raw(), protocol.DeviceIDMarker) {
		return fmt.Errorf("%w: unexpected ID reply %q", ErrConnect, resp.Raw())
	}
	logging.Info("relay device identified", "port", l.opts.Path, "id", resp.Raw())
	return nil
}

// drain discards whatever the firmware printed while resetting. Costs one
// read timeout when the buffer is already empty.
func (l *Link) drain() {
	buf := make([]byte, 512)
	for {
		n, err := l.port.Read(buf)
		if n < len(buf) || err != nil {
			break
		}
	}
	l.rbuf = nil
}

// Execute writes one command line and collects the framed reply. An I/O
// error is returned to the caller; the link stays open, a failed read is
// assumed transient, not link death.
func (l *Link) Execute(line string) (protocol.Response, error) {
	if !l.open {
		return protocol.Response{}, fmt.Errorf("%w: link closed", ErrConnect)
	}
	if err := l.WriteLine(line); err != nil {
		return protocol.Response{}, fmt.Errorf("write command: %w", err)
	}
	return protocol.Collect(l), nil
}

// WriteLine sends one newline-terminated command. The whole line goes out
// in one write so the firmware never sees a partial command.
func (l *Link) WriteLine(line string) error {
	out := []byte(line + "\n")
	for len(out) > 0 {
		n, err := l.port.Write(out)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write on %s", l.opts.Path)
		}
		out = out[n:]
	}
	return nil
}

// ReadLine returns the next newline-terminated reply line, stripped.
// Returns ErrTimeout when no full line arrives within the port timeout.
func (l *Link) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(l.rbuf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(l.rbuf[:i]))
			l.rbuf = l.rbuf[i+1:]
			return line, nil
		}
		buf := make([]byte, 256)
		n, err := l.port.Read(buf)
		if n > 0 {
			l.rbuf = append(l.rbuf, buf[:n]...)
			continue
		}
		if errors.Is(err, serial.ErrTimeout) {
			return "", ErrTimeout
		}
		if err != nil {
			return "", err
		}
	}
}

func (l *Link) IsOpen() bool { return l.open }

func (l *Link) Path() string { return l.opts.Path }

// Close is idempotent.
func (l *Link) Close() error {
	if !l.open {
		return nil
	}
	l.open = false
	return l.port.Close()
}
