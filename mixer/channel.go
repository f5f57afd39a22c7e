package mixer

import (
	"strings"
)

// Channel is one of the fixed logical buses sources are routed to
// The set is closed: ducking state and volume state are stored in
// fixed-size arrays indexed by Channel
type Channel int

const (
	Main Channel = iota
	Voice
	Event
	channelCount
)

// NumChannels is the size of the closed channel set
const NumChannels = int(channelCount)

// AllChannels lists every bus in index order
var AllChannels = [NumChannels]Channel{Main, Voice, Event}

// Valid reports whether c is a member of the closed set
func (c Channel) Valid() bool {
	return c >= Main && c < channelCount
}

// String returns the channel name
func (c Channel) String() string {
	switch c {
	case Main:
		return "main"
	case Voice:
		return "voice"
	case Event:
		return "event"
	default:
		return "invalid"
	}
}

// ParseChannel resolves a channel by name, case-insensitive
func ParseChannel(name string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "main":
		return Main, true
	case "voice":
		return Voice, true
	case "event":
		return Event, true
	default:
		return Main, false
	}
}
