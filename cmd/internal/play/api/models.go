package playapi

import (
	"strings"
	"time"
)

// startRequest accepts gameId as an alias of resourceId for older clients.
type startRequest struct {
	ResourceID string `json:"resourceId"`
	GameID     string `json:"gameId,omitempty"`
}

func (r startRequest) resourceID() string {
	if id := strings.TrimSpace(r.ResourceID); id != "" {
		return id
	}
	return strings.TrimSpace(r.GameID)
}

type startResponse struct {
	SessionToken         string    `json:"sessionToken"`
	HeartbeatIntervalSec int       `json:"heartbeatIntervalSec"`
	SessionID            string    `json:"sessionId"`
	ExpiresAt            time.Time `json:"expiresAt"`
}

type heartbeatResponse struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
