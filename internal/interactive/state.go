package interactive

import "fmt"

// ConnState is the socket-level lifecycle.
type ConnState int

const (
	NotConnected ConnState = iota
	Discovering
	OpeningSocket
	Welcomed
	Authenticating
	Ready
)

func (s ConnState) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Discovering:
		return "discovering"
	case OpeningSocket:
		return "opening_socket"
	case Welcomed:
		return "welcomed"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("conn_state(%d)", int(s))
}

// LoginState is what callers poll while waiting for a login to settle.
type LoginState int

const (
	NotLoggedIn LoginState = iota
	LoggingIn
	LoggedIn
)

func (s LoginState) String() string {
	switch s {
	case NotLoggedIn:
		return "not_logged_in"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	}
	return fmt.Sprintf("login_state(%d)", int(s))
}

// InteractivityState follows the server's onReady pushes.
type InteractivityState int

const (
	NotInteractive InteractivityState = iota
	Starting
	Interactive
	Stopping
)

func (s InteractivityState) String() string {
	switch s {
	case NotInteractive:
		return "not_interactive"
	case Starting:
		return "starting"
	case Interactive:
		return "interactive"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("interactivity_state(%d)", int(s))
}

// Transitional reports whether a caller waiting on the state should keep waiting.
func (s InteractivityState) Transitional() bool {
	return s == Starting || s == Stopping
}
