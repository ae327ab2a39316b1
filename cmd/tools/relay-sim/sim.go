package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

const (
	numChannels = 6
	identity    = "RELAY-CTRL v1.0"
	minPulseMs  = 1
	maxPulseMs  = 60000
)

// Firmware mimics the relay module: 6 channels, one command per line, one
// terminated reply per command.
type Firmware struct {
	rw io.ReadWriter

	mu       sync.Mutex
	channels [numChannels]bool
	timers   [numChannels]*time.Timer

	rbuf []byte
}

func NewFirmware(rw io.ReadWriter) *Firmware {
	return &Firmware{rw: rw}
}

func (f *Firmware) Serve() {
	for {
		line, err := f.readLine()
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			log.Printf("read: %v", err)
			return
		}
		if line == "" {
			continue
		}
		f.reply(f.execute(line))
	}
}

func (f *Firmware) execute(line string) string {
	fields := strings.Fields(line)
	op, args := fields[0], fields[1:]

	f.mu.Lock()
	defer f.mu.Unlock()

	switch op {
	case "ID":
		return identity
	case "ON", "OFF", "TOGGLE":
		channels, err := parseChannels(args)
		if err != nil {
			return "ERR " + err.Error()
		}
		for _, ch := range channels {
			f.clearPulse(ch)
			switch op {
			case "ON":
				f.channels[ch] = true
			case "OFF":
				f.channels[ch] = false
			case "TOGGLE":
				f.channels[ch] = !f.channels[ch]
			}
		}
		return "OK"
	case "PULSE":
		if len(args) != 2 {
			return "ERR pulse needs channel and duration"
		}
		channels, err := parseChannels(args[:1])
		if err != nil {
			return "ERR " + err.Error()
		}
		ms, err := strconv.Atoi(args[1])
		if err != nil || ms < minPulseMs || ms > maxPulseMs {
			return "ERR bad duration"
		}
		ch := channels[0]
		f.clearPulse(ch)
		f.channels[ch] = true
		f.timers[ch] = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			f.mu.Lock()
			f.channels[ch] = false
			f.timers[ch] = nil
			f.mu.Unlock()
		})
		return "OK"
	case "STATUS":
		return f.statusLine()
	case "ALLON", "ALLOFF":
		for ch := range f.channels {
			f.clearPulse(ch)
			f.channels[ch] = op == "ALLON"
		}
		return "OK"
	default:
		return "ERR unknown command"
	}
}

func (f *Firmware) statusLine() string {
	parts := make([]string, 0, numChannels+1)
	parts = append(parts, "STATUS")
	for ch, on := range f.channels {
		level := "OFF"
		if on {
			level = "ON"
		}
		parts = append(parts, fmt.Sprintf("%d:%s", ch, level))
	}
	return strings.Join(parts, " ")
}

func (f *Firmware) clearPulse(ch int) {
	if f.timers[ch] != nil {
		f.timers[ch].Stop()
		f.timers[ch] = nil
	}
}

func (f *Firmware) reply(line string) {
	if _, err := f.rw.Write([]byte(line + "\n")); err != nil {
		log.Printf("write: %v", err)
	}
}

func (f *Firmware) readLine() (string, error) {
	for {
		if i := bytes.IndexByte(f.rbuf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(f.rbuf[:i]))
			f.rbuf = f.rbuf[i+1:]
			return line, nil
		}
		buf := make([]byte, 256)
		n, err := f.rw.Read(buf)
		if n > 0 {
			f.rbuf = append(f.rbuf, buf[:n]...)
			continue
		}
		if err != nil {
			return "", err
		}
	}
}

func parseChannels(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, errors.New("missing channel")
	}
	channels := make([]int, 0, len(args))
	for _, a := range args {
		ch, err := strconv.Atoi(a)
		if err != nil || ch < 0 || ch >= numChannels {
			return nil, fmt.Errorf("bad channel %q", a)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}
