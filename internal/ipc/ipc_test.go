package ipc

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listen(t *testing.T, handle func(Request) Response) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "ipc.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				var req Request
				if json.NewDecoder(c).Decode(&req) != nil {
					return
				}
				_ = json.NewEncoder(c).Encode(handle(req))
			}(conn)
		}
	}()
	return socket
}

func TestProbe(t *testing.T) {
	socket := listen(t, func(Request) Response { return Response{} })
	require.True(t, Probe(socket))
	require.False(t, Probe(filepath.Join(t.TempDir(), "nobody-home.sock")))
}

func TestExchangeRoundTrip(t *testing.T) {
	socket := listen(t, func(req Request) Response {
		require.Equal(t, "STATUS", req.Command)
		return Response{Success: true, Response: "STATUS 0:OFF"}
	})

	resp, err := Exchange(socket, "STATUS", time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "STATUS 0:OFF", resp.Response)
	require.Empty(t, resp.Error)
}

func TestExchangeCarriesErrorField(t *testing.T) {
	socket := listen(t, func(Request) Response {
		return Response{Success: false, Error: "serial glitch"}
	})

	resp, err := Exchange(socket, "ON 0", time.Second)
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "serial glitch", resp.Error)
}

func TestExchangeWithoutListener(t *testing.T) {
	_, err := Exchange(filepath.Join(t.TempDir(), "gone.sock"), "ID", 100*time.Millisecond)
	require.Error(t, err)
}
