package driver

// ConnectionState is the lifecycle of the persistent socket channel.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "DISCONNECTED"
	ConnConnecting   ConnectionState = "CONNECTING"
	ConnConnected    ConnectionState = "CONNECTED"
)

func (state ConnectionState) String() string { return string(state) }

// AppState is the host application lifecycle phase as reported by the OS.
type AppState string

const (
	AppForeground AppState = "FOREGROUND"
	AppBackground AppState = "BACKGROUND"
	AppInactive   AppState = "INACTIVE"
)

// Valid reports whether the app state is one of the allowed constants.
func (state AppState) Valid() bool {
	switch state {
	case AppForeground, AppBackground, AppInactive:
		return true
	default:
		return false
	}
}

func (state AppState) String() string { return string(state) }
