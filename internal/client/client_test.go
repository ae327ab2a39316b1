package client

import (
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fcefyn/hilrelay/internal/config"
	"github.com/fcefyn/hilrelay/internal/ipc"
	"github.com/fcefyn/hilrelay/internal/protocol"
	"github.com/fcefyn/hilrelay/internal/relay"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Port = filepath.Join(dir, "no-such-device")
	cfg.SocketPath = filepath.Join(dir, "c.sock")
	cfg.PidPath = filepath.Join(dir, "c.pid")
	cfg.LockDir = dir
	return cfg
}

// scriptBroker answers the one-shot protocol on the configured socket and
// records every command it was asked to run.
func scriptBroker(t *testing.T, socket string, handle func(cmd string) ipc.Response) *commandLog {
	t.Helper()
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	log := &commandLog{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				var req ipc.Request
				if json.NewDecoder(c).Decode(&req) != nil {
					return
				}
				log.add(req.Command)
				_ = json.NewEncoder(c).Encode(handle(req.Command))
			}(conn)
		}
	}()
	return log
}

type commandLog struct {
	mu       sync.Mutex
	commands []string
}

func (l *commandLog) add(cmd string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, cmd)
}

func (l *commandLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.commands...)
}

func TestRunRoutesViaBrokerWhenListening(t *testing.T) {
	cfg := testConfig(t)
	log := scriptBroker(t, cfg.SocketPath, func(cmd string) ipc.Response {
		return ipc.Response{Success: true, Response: "OK"}
	})

	c := New(cfg)
	defer c.Close()

	res, err := c.Run(protocol.On(0, 1, 3))
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.ViaBroker)
	require.Equal(t, "OK", res.Response)
	require.Equal(t, []string{"ON 0 1 3"}, log.all(), "multi-channel rides in one line")
}

func TestRunFallsBackToGateWithoutBroker(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg)
	defer c.Close()

	// No broker socket and no device node behind the gate either, so the
	// direct path surfaces a connect error rather than a broker one.
	_, err := c.Run(protocol.Status())
	require.ErrorIs(t, err, relay.ErrConnect)
}

func TestRunValidatesBeforeAnyTransport(t *testing.T) {
	cfg := testConfig(t)
	log := scriptBroker(t, cfg.SocketPath, func(string) ipc.Response {
		return ipc.Response{Success: true, Response: "OK"}
	})

	c := New(cfg)
	defer c.Close()

	_, err := c.Run(protocol.On(9))
	require.ErrorIs(t, err, protocol.ErrValidation)
	_, err = c.Run(protocol.Pulse(2, 0))
	require.ErrorIs(t, err, protocol.ErrValidation)
	require.Empty(t, log.all(), "invalid commands never leave the process")
}

func TestRunReportsDeviceFailure(t *testing.T) {
	cfg := testConfig(t)
	scriptBroker(t, cfg.SocketPath, func(string) ipc.Response {
		return ipc.Response{Success: false, Response: "ERR bad channel"}
	})

	c := New(cfg)
	defer c.Close()

	res, err := c.Run(protocol.Toggle(5))
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "ERR bad channel", res.Response)
}

func TestStatusParsesChannelMap(t *testing.T) {
	cfg := testConfig(t)
	scriptBroker(t, cfg.SocketPath, func(string) ipc.Response {
		return ipc.Response{Success: true, Response: "STATUS 0:ON 1:OFF 2:OFF 3:ON 4:OFF 5:OFF"}
	})

	c := New(cfg)
	defer c.Close()

	res, snap, err := c.Status()
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, snap)
	require.Equal(t, map[int]bool{0: true, 1: false, 2: false, 3: true, 4: false, 5: false}, snap.Channels)
}

func TestStatusWithoutParsableReply(t *testing.T) {
	cfg := testConfig(t)
	scriptBroker(t, cfg.SocketPath, func(string) ipc.Response {
		return ipc.Response{Success: true, Response: "OK"}
	})

	c := New(cfg)
	defer c.Close()

	res, snap, err := c.Status()
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Nil(t, snap, "raw result is still returned when parsing finds no STATUS line")
}
