package broker

import (
	"os"
	"time"
)

// Environment variables consulted by ConfigFromEnv. They are read once;
// the broker itself never touches the environment.
const (
	// EnvCoordinator names the coordinator's network address. When set,
	// the broker runs in coordinator mode.
	EnvCoordinator = "FASTBUILD_COORDINATOR"

	// EnvBrokeragePath names the root directory of the filesystem
	// registry. Ignored for discovery preference when a coordinator
	// address is present.
	EnvBrokeragePath = "FASTBUILD_BROKERAGE_PATH"
)

const (
	// RepublishInterval is the minimum spacing between redundant
	// "still available" publications.
	RepublishInterval = 10 * time.Second

	// ConnectTimeout bounds a coordinator connection attempt.
	ConnectTimeout = 2 * time.Second

	// DefaultFindTimeout bounds the wait for a coordinator worker-list
	// response when the caller's context carries no deadline of its
	// own. Without it a mute coordinator would hang the caller forever.
	DefaultFindTimeout = 10 * time.Second
)

// Config carries the broker's resolved configuration. Build one by hand
// or with ConfigFromEnv; the zero value disables both backends, which is
// a valid (no-op) configuration.
type Config struct {
	// CoordinatorAddr is the coordinator's host or IP. Empty disables
	// coordinator mode.
	CoordinatorAddr string

	// BrokeragePath is the base directory of the filesystem registry.
	// The versioned namespace is derived beneath it. Empty disables
	// the filesystem backend.
	BrokeragePath string

	// CoordinatorPort overrides the well-known coordinator port.
	// Zero means protocol.CoordinatorPort.
	CoordinatorPort int
}

// ConfigFromEnv resolves broker configuration from the process
// environment. Call it once at startup and hand the result to New, so
// the broker stays a pure function of its configuration.
func ConfigFromEnv() Config {
	return Config{
		CoordinatorAddr: os.Getenv(EnvCoordinator),
		BrokeragePath:   os.Getenv(EnvBrokeragePath),
	}
}
