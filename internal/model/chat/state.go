package chat

// ConnectionState is the lifecycle state of a session's channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

func (s ConnectionState) String() string {
	return string(s)
}
