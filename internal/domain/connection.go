package domain

// ConnectionStatus is the coarse state of the real-time transport.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnError        ConnectionStatus = "error"
)

// ConnectionState is a read-only snapshot of transport health. It is written
// only by the connection monitor; everyone else observes copies.
type ConnectionState struct {
	Status            ConnectionStatus `json:"status"`
	ReconnectAttempts int              `json:"reconnect_attempts"`
	LastError         string           `json:"last_error,omitempty"`
}
