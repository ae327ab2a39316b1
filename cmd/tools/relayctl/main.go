package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/fcefyn/hilrelay/internal/client"
	"github.com/fcefyn/hilrelay/internal/config"
	"github.com/fcefyn/hilrelay/internal/gate"
	"github.com/fcefyn/hilrelay/internal/logging"
	"github.com/fcefyn/hilrelay/internal/protocol"
	"github.com/fcefyn/hilrelay/internal/relay"
)

const (
	exitOK         = 0
	exitConnect    = 1
	exitExecution  = 2
	exitInvalidArg = 3
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  relayctl on CH [CH...]      Turn on relay channels (0-5)
  relayctl off CH [CH...]     Turn off relay channels (0-5)
  relayctl toggle CH [CH...]  Toggle relay channels (0-5)
  relayctl pulse CH MS        Pulse a channel for 1-60000 ms
  relayctl status             Show the status of all channels
  relayctl allon              Turn on all channels
  relayctl alloff             Turn off all channels
  relayctl id                 Query the firmware identity

Optional flags:
  --config  (string)   JSON config file
  --port    (string)   Serial port path (default /dev/arduino-relay)
  --baud    (int)      Serial speed (default 115200)
  --timeout (int)      Read/write timeout in milliseconds (default 2000)
  --socket  (string)   Broker socket path (default /tmp/hilrelay.sock)
  --verbose            Debug logging

Exit codes: 0 success, 1 connection error, 2 command error, 3 invalid arguments.

`)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command\n")
		usage()
		return exitInvalidArg
	}
	name := os.Args[1]

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "JSON config file (optional)")
	port := fs.String("port", "", "serial port path")
	baud := fs.Int("baud", 0, "serial speed")
	timeoutMs := fs.Int("timeout", 0, "timeout in milliseconds")
	socket := fs.String("socket", "", "broker socket path")
	verbose := fs.Bool("verbose", false, "debug logging")
	fs.Usage = usage
	if err := fs.Parse(os.Args[2:]); err != nil {
		return exitInvalidArg
	}

	if *verbose {
		os.Setenv("LOG_LEVEL", "debug")
	}
	logging.Init()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitInvalidArg
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *baud > 0 {
		cfg.Baud = *baud
	}
	if *timeoutMs > 0 {
		cfg.TimeoutMs = *timeoutMs
	}
	if *socket != "" {
		cfg.SocketPath = *socket
	}

	cmd, err := buildCommand(name, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		usage()
		return exitInvalidArg
	}

	c := client.New(cfg)
	defer c.Close()

	if name == "status" {
		return runStatus(c)
	}

	res, err := c.Run(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitCodeFor(err)
	}
	if !res.Success {
		if res.Error != "" {
			fmt.Fprintf(os.Stderr, "command failed: %s\n", res.Error)
		} else {
			fmt.Fprintf(os.Stderr, "command failed: %s\n", res.Response)
		}
		return exitExecution
	}
	if res.Response != "" {
		fmt.Println(res.Response)
	}
	return exitOK
}

func runStatus(c *client.Client) int {
	res, snap, err := c.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitCodeFor(err)
	}
	if !res.Success {
		fmt.Fprintf(os.Stderr, "status failed: %s%s\n", res.Error, res.Response)
		return exitExecution
	}
	fmt.Printf("Relay Status: %s\n", res.Response)
	if snap != nil {
		for ch := 0; ch < protocol.NumChannels; ch++ {
			if on, ok := snap.Channels[ch]; ok {
				fmt.Printf("  channel %d: %s\n", ch, levelName(on))
			}
		}
	}
	return exitOK
}

func levelName(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("RELAY_CONFIG_PATH")
	}
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv()
}

func buildCommand(name string, args []string) (protocol.Command, error) {
	switch name {
	case "on", "off", "toggle":
		channels, err := parseChannels(args)
		if err != nil {
			return protocol.Command{}, err
		}
		switch name {
		case "on":
			return protocol.On(channels...), nil
		case "off":
			return protocol.Off(channels...), nil
		default:
			return protocol.Toggle(channels...), nil
		}
	case "pulse":
		if len(args) != 2 {
			return protocol.Command{}, errors.New("pulse needs a channel and a duration")
		}
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return protocol.Command{}, fmt.Errorf("bad channel %q", args[0])
		}
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			return protocol.Command{}, fmt.Errorf("bad duration %q", args[1])
		}
		return protocol.Pulse(ch, ms), nil
	case "status":
		return protocol.Status(), nil
	case "allon":
		return protocol.AllOn(), nil
	case "alloff":
		return protocol.AllOff(), nil
	case "id":
		return protocol.ID(), nil
	default:
		return protocol.Command{}, fmt.Errorf("unknown command: %s", name)
	}
}

func parseChannels(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	channels := make([]int, 0, len(args))
	for _, a := range args {
		ch, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("bad channel %q", a)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrValidation):
		return exitInvalidArg
	case errors.Is(err, gate.ErrContention):
		return exitExecution
	case errors.Is(err, relay.ErrTimeout):
		return exitExecution
	case errors.Is(err, relay.ErrConnect):
		return exitConnect
	default:
		return exitConnect
	}
}
