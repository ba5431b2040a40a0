package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// generateHolderID builds a holder id that is stable for the life of
// the process and traceable back to the host that generated it, for
// easier lease-contention debugging than a bare random UUID.
func generateHolderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String())
}
