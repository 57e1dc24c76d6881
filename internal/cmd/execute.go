package cmd

import (
	"github.com/dotcommander/yagent/internal/config"
)

// Execute runs the CLI and returns the process exit code.
func Execute(build BuildInfo, cfg config.Config, cfgErr error) int {
	defer maybeWriteMemProfile()

	if err := NewRootCmd(build, cfg, cfgErr).Execute(); err != nil {
		handleError(err)
		return 1
	}
	return 0
}
