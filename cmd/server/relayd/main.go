package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fcefyn/hilrelay/internal/broker"
	"github.com/fcefyn/hilrelay/internal/config"
	"github.com/fcefyn/hilrelay/internal/logging"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  relayd start|stop|status [--config PATH]

Actions:
  start    Run the broker in the foreground until SIGINT/SIGTERM
  stop     Send SIGTERM to the broker recorded in the pidfile
  status   Report whether a broker is running

Optional flags:
  --config (string)   JSON config file; defaults plus env otherwise

Environment: RELAY_PORT, RELAY_BAUD, RELAY_TIMEOUT_MS, RELAY_SETTLE_MS,
RELAY_SOCKET, RELAY_PIDFILE, RELAY_LOCK_DIR, RELAY_NAME, MQTT_URL,
LOG_LEVEL, LOG_FORMAT.

`)
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing action (start|stop|status)\n")
		usage()
		os.Exit(2)
	}
	action := os.Args[1]

	fs := flag.NewFlagSet(action, flag.ExitOnError)
	configPath := fs.String("config", "", "JSON config file (optional)")
	fs.Usage = usage
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	logging.Init()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logging.Fatal("config error", "error", err)
	}

	switch action {
	case "start":
		runBroker(cfg)
	case "stop":
		stopBroker(cfg)
	case "status":
		reportStatus(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", action)
		usage()
		os.Exit(2)
	}
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

func runBroker(cfg *config.Config) {
	b := broker.New(cfg)
	if err := b.Start(); err != nil {
		if errors.Is(err, broker.ErrAlreadyRunning) {
			logging.Fatal("broker already running", "pidfile", cfg.PidPath)
		}
		logging.Fatal("broker start failed", "error", err)
	}

	// Termination requests transition cleanly to shutdown; Serve observes
	// the flag within one accept poll.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logging.Info("shutting down", "signal", s.String())
		b.Shutdown()
	}()

	b.Serve()
	b.Shutdown()
	logging.Info("bye")
}

func stopBroker(cfg *config.Config) {
	pid, alive := broker.CheckPidfile(cfg.PidPath)
	if !alive {
		fmt.Println("Broker is not running")
		os.Exit(1)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "signal broker: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Stop signal sent")
}

func reportStatus(cfg *config.Config) {
	if pid, alive := broker.CheckPidfile(cfg.PidPath); alive {
		fmt.Printf("Broker is running (PID: %d)\n", pid)
		return
	}
	fmt.Println("Broker is not running")
	os.Exit(1)
}
