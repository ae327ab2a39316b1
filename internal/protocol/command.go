// Package protocol implements the ASCII line dialect spoken by the
// RELAY-CTRL firmware: command encoding, multi-line response framing and
// STATUS parsing.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DeviceIDMarker identifies correct firmware in a handshake reply.
	DeviceIDMarker = "RELAY-CTRL"

	NumChannels = 6
	MinPulseMs  = 1
	MaxPulseMs  = 60000
)

// ErrValidation marks a command that must not reach the device.
var ErrValidation = errors.New("invalid command argument")

type Opcode string

const (
	OpID     Opcode = "ID"
	OpOn     Opcode = "ON"
	OpOff    Opcode = "OFF"
	OpToggle Opcode = "TOGGLE"
	OpPulse  Opcode = "PULSE"
	OpStatus Opcode = "STATUS"
	OpAllOn  Opcode = "ALLON"
	OpAllOff Opcode = "ALLOFF"
)

// Command is one operation from the closed vocabulary plus its operands.
type Command struct {
	Op       Opcode
	Channels []int
	PulseMs  int
}

func ID() Command     { return Command{Op: OpID} }
func Status() Command { return Command{Op: OpStatus} }
func AllOn() Command  { return Command{Op: OpAllOn} }
func AllOff() Command { return Command{Op: OpAllOff} }

func On(channels ...int) Command     { return Command{Op: OpOn, Channels: channels} }
func Off(channels ...int) Command    { return Command{Op: OpOff, Channels: channels} }
func Toggle(channels ...int) Command { return Command{Op: OpToggle, Channels: channels} }

func Pulse(channel, ms int) Command {
	return Command{Op: OpPulse, Channels: []int{channel}, PulseMs: ms}
}

func (c Command) Validate() error {
	switch c.Op {
	case OpID, OpStatus, OpAllOn, OpAllOff:
		if len(c.Channels) != 0 {
			return fmt.Errorf("%w: %s takes no channels", ErrValidation, c.Op)
		}
	case OpOn, OpOff, OpToggle:
		if len(c.Channels) == 0 {
			return fmt.Errorf("%w: %s needs at least one channel", ErrValidation, c.Op)
		}
		for _, ch := range c.Channels {
			if ch < 0 || ch >= NumChannels {
				return fmt.Errorf("%w: channel %d out of range 0..%d", ErrValidation, ch, NumChannels-1)
			}
		}
	case OpPulse:
		if len(c.Channels) != 1 {
			return fmt.Errorf("%w: PULSE takes exactly one channel", ErrValidation)
		}
		if ch := c.Channels[0]; ch < 0 || ch >= NumChannels {
			return fmt.Errorf("%w: channel %d out of range 0..%d", ErrValidation, ch, NumChannels-1)
		}
		if c.PulseMs < MinPulseMs || c.PulseMs > MaxPulseMs {
			return fmt.Errorf("%w: pulse %dms out of range %d..%d", ErrValidation, c.PulseMs, MinPulseMs, MaxPulseMs)
		}
	default:
		return fmt.Errorf("%w: unknown opcode %q", ErrValidation, string(c.Op))
	}
	return nil
}

// Encode validates the command and renders the wire line, without the
// trailing newline. The closed vocabulary has no delimiter collisions, so
// no escaping exists.
func (c Command) Encode() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	parts := []string{string(c.Op)}
	for _, ch := range c.Channels {
		parts = append(parts, strconv.Itoa(ch))
	}
	if c.Op == OpPulse {
		parts = append(parts, strconv.Itoa(c.PulseMs))
	}
	return strings.Join(parts, " "), nil
}
