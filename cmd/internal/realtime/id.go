package realtime

import (
	"time"

	"playgate/cmd/identity/ids"
)

// NewConnID returns a ULID identifying one websocket connection in logs.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
