package dbconn

import (
	"io"

	"go.uber.org/zap"

	platformlogging "github.com/upem-wims/wims-lti/platform/go/logging"
)

// Logger is the console logger CLI commands report audit lines to.
func Logger(out io.Writer) *zap.Logger {
	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "wimslti",
		Format:    "console",
		Output:    out,
	})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
