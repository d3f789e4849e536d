package tools

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRoomID names a room after its creation instant, e.g. "voice-1759579200000".
func NewRoomID(prefix string, now time.Time) string {
	return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}

// NewIdentity returns prefix followed by a short random suffix, e.g. "guest-1a2b3c4d".
func NewIdentity(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + id[:8]
}

// NewEventID returns a fresh id for an outgoing data channel event.
func NewEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
