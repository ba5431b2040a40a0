// Package logging wires up the process-wide logger, grounded on the
// luxfi/log usage pattern across luxfi-evm (`logger := log.New()`,
// `logger.With(...)`, `luxlog.SetDefault(...)`, see e.g.
// network/network.go and plugin/evm/logger_adapter.go), rather than the
// go-ethereum-compatibility shim in luxfi-evm/log/compat.go, since this
// repo talks to luxfi/log directly.
package logging

import (
	luxlog "github.com/luxfi/log"
)

// Setup validates level, builds a root logger tagged with this
// process's component name, installs it as the package-wide default
// (so every package's luxlog.Root() call picks it up), and returns it
// for callers that want to hold their own reference.
func Setup(component, level string) (luxlog.Logger, error) {
	if _, err := luxlog.ToLevel(level); err != nil {
		return nil, err
	}

	logger := luxlog.New().With("component", component, "level", level)
	luxlog.SetDefault(logger)
	return logger, nil
}

// Discard installs a logger that never prints anything, for tests that
// exercise logging code paths without wanting to assert on output.
func Discard() luxlog.Logger {
	logger := luxlog.New().With("component", "test")
	luxlog.SetDefault(logger)
	return logger
}
