package protocol

import (
	"errors"
	"strings"
)

// MaxResponseLines caps collection; the firmware never replies with more.
const MaxResponseLines = 10

const errMarker = "ERR"

// ErrProtocol marks a reply that could not be framed.
var ErrProtocol = errors.New("malformed device response")

var terminalMarkers = []string{"STATUS", errMarker, "OK", DeviceIDMarker}

// Outcome classifies a collected reply. The zero value is Failure, so a
// zero Response never reads as successful.
type Outcome int

const (
	Failure Outcome = iota
	Success
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// Response is the ordered sequence of reply lines for one command.
type Response struct {
	Lines   []string
	Outcome Outcome
}

func (r Response) Raw() string { return strings.Join(r.Lines, "\n") }

func (r Response) Ok() bool { return r.Outcome == Success }

// LineReader yields one stripped reply line per call. An empty line with a
// nil error means the stream produced a blank read; an error ends collection.
type LineReader interface {
	ReadLine() (string, error)
}

// IsTerminal reports whether a line ends a multi-line reply.
func IsTerminal(line string) bool {
	for _, m := range terminalMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Collect reads up to MaxResponseLines lines, stopping early at a terminal
// line or on an empty/timed-out read. All collected lines, terminal
// included, are kept in order.
func Collect(r LineReader) Response {
	var lines []string
	var lastErr error
	for len(lines) < MaxResponseLines {
		line, err := r.ReadLine()
		if err != nil || line == "" {
			lastErr = err
			break
		}
		lines = append(lines, line)
		if IsTerminal(line) {
			break
		}
	}
	return classify(lines, lastErr)
}

func classify(lines []string, readErr error) Response {
	if len(lines) == 0 && isTimeout(readErr) {
		return Response{Outcome: Timeout}
	}
	resp := Response{Lines: lines}
	if PermissiveSuccess(resp.Raw()) {
		resp.Outcome = Success
	} else {
		resp.Outcome = Failure
	}
	return resp
}

// PermissiveSuccess is the canonical success predicate: any non-empty reply
// that does not carry the ERR marker.
func PermissiveSuccess(raw string) bool {
	return raw != "" && !strings.Contains(raw, errMarker)
}

// StrictSuccess is the earlier protocol revision's predicate, which also
// demands an explicit OK, STATUS or device-ID line. Kept for callers that
// need the old behavior.
func StrictSuccess(raw string) bool {
	if raw == "" || strings.Contains(raw, errMarker) {
		return false
	}
	return strings.Contains(raw, "OK") ||
		strings.Contains(raw, "STATUS") ||
		strings.Contains(raw, DeviceIDMarker)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
