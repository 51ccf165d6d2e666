package lifecycle

import "fmt"

// State is the engine's load state.
type State int

// Engine states. Failed is retryable: the next EnsureReady starts a new load.
const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Loading:       "loading",
	Ready:         "ready",
	Failed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and TOML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InitError reports that the engine could not be loaded or failed its
// post-load check.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("engine initialization failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
