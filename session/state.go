package session

// State is the Manager's login state.
type State int

const (
	NoSession State = iota
	ValidatingCache
	LoggingIn
	LoggedIn
	LoginFailed
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case ValidatingCache:
		return "validating_cache"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	case LoginFailed:
		return "login_failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
