package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Snapshot is a parsed STATUS reply. It is a cache of channel levels at
// capture time, never authoritative; the device is ground truth.
type Snapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Channels  map[int]bool `json:"channels"`
	Raw       string       `json:"raw"`
}

// ParseStatus scans a response for the first STATUS line and tokenizes the
// remainder. Tokens look like "<index>:<ON|OFF>"; malformed tokens are
// skipped, never fatal. Returns false when no STATUS line exists.
func ParseStatus(resp Response) (*Snapshot, bool) {
	for _, line := range resp.Lines {
		if !strings.HasPrefix(line, string(OpStatus)) {
			continue
		}
		snap := &Snapshot{
			Timestamp: time.Now(),
			Channels:  make(map[int]bool),
			Raw:       line,
		}
		for _, tok := range strings.Fields(line)[1:] {
			idx, level, ok := parseChannelToken(tok)
			if !ok {
				continue
			}
			snap.Channels[idx] = level
		}
		return snap, true
	}
	return nil, false
}

// ParseStatusText parses a snapshot out of raw newline-joined response
// text, as carried over the IPC wire.
func ParseStatusText(raw string) (*Snapshot, bool) {
	if raw == "" {
		return nil, false
	}
	return ParseStatus(Response{Lines: strings.Split(raw, "\n")})
}

func parseChannelToken(tok string) (int, bool, bool) {
	k, v, found := strings.Cut(tok, ":")
	if !found {
		return 0, false, false
	}
	idx, err := strconv.Atoi(k)
	if err != nil || idx < 0 || idx >= NumChannels {
		return 0, false, false
	}
	switch v {
	case "ON":
		return idx, true, true
	case "OFF":
		return idx, false, true
	}
	return 0, false, false
}
