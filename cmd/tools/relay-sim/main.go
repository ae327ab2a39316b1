package main

import (
	"flag"
	"log"
	"time"

	"github.com/goburrow/serial"
)

// relay-sim speaks the device side of the RELAY-CTRL dialect on a real
// serial port (typically one end of a socat pty pair) for bench testing the
// broker and CLI without hardware.
func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial port to serve on")
	baud := flag.Int("baud", 115200, "serial speed")
	flag.Parse()

	p, err := serial.Open(&serial.Config{
		Address:  *port,
		BaudRate: *baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  2 * time.Second,
	})
	if err != nil {
		log.Fatalf("serial open %s: %v", *port, err)
	}
	defer p.Close()

	log.Printf("relay simulator ready on %s (%d baud, 6 channels)", *port, *baud)
	NewFirmware(p).Serve()
}
