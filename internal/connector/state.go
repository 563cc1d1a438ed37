package connector

import (
	"time"

	"github.com/danmuck/connectorctl/internal/protocol/session"
)

// State is the link lifecycle phase.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDraining     State = "draining"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

var knownStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateDraining),
	string(StateReconnecting),
	string(StateStopped),
}

// Status is a point-in-time view of the link for admin callers.
type Status struct {
	State         State                     `json:"state"`
	SessionID     string                    `json:"session_id,omitempty"`
	Generation    uint64                    `json:"generation"`
	Connects      uint64                    `json:"connects"`
	FailedAttempt int                       `json:"failed_attempts"`
	LastError     string                    `json:"last_error,omitempty"`
	ConnectedAt   time.Time                 `json:"connected_at,omitempty"`
	QueueDepth    int                       `json:"queue_depth"`
	Pending       []session.PendingSnapshot `json:"pending"`
}
