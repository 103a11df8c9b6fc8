package lockfile

import (
	"io"
	"log/slog"
)

// logger is this package's logger. It defaults to discarding all output,
// so an embedding application that never configures it sees the same
// behavior as before: errors are returned, nothing is printed.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// SetLogger swaps the package-level logger used for I/O- and
// corrupt-header-error records. slog has no level above Error, so both
// the spec's ERR and CRIT kinds log at Error.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = l
}
