package event

const (
	ListenerBound      EventType = "listener.bound"
	SessionOpened      EventType = "session.opened"
	SessionClosed      EventType = "session.closed"
	ConnectionRejected EventType = "connection.rejected"
)

// ListenerBoundData is the data for listener.bound events.
type ListenerBoundData struct {
	Addr string `json:"addr"`
}

// SessionOpenedData is the data for session.opened events.
type SessionOpenedData struct {
	SessionID string `json:"sessionID"`
	Remote    string `json:"remote"`
}

// SessionClosedData is the data for session.closed events.
type SessionClosedData struct {
	SessionID  string `json:"sessionID"`
	Remote     string `json:"remote"`
	Handled    int64  `json:"handled"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// ConnectionRejectedData is the data for connection.rejected events.
type ConnectionRejectedData struct {
	Remote string `json:"remote"`
	Reason string `json:"reason"`
}
