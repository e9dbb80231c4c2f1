package tor

import "errors"

var (
	// ErrNoDirectory means the client has no timely network directory,
	// usually because it has not bootstrapped yet.
	ErrNoDirectory = errors.New("no directory available")

	// ErrBootstrapIncomplete means tor's network is enabled but it has not
	// reached 100% bootstrap progress.
	ErrBootstrapIncomplete = errors.New("bootstrap incomplete")

	// ErrEmptyPath means a circuit was reported without any hops.
	ErrEmptyPath = errors.New("circuit has no hops")

	// ErrOnionDisabled is returned when dialing a .onion address with
	// AllowOnionAddrs unset.
	ErrOnionDisabled = errors.New("onion addresses are disabled")
)
