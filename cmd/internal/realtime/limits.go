package realtime

import "time"

const (
	// Clients only ever send hello; anything larger is hostile.
	maxFrameBytes = 4 << 10

	wsMaxPingFailures = 3
	wsCloseGrace      = 1 * time.Second
	wsMinSendQueue    = 4
)
