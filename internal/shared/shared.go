// Package shared holds helpers used by both binaries.
package shared

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// NewLogger creates a [log.Logger] writing to w with timestamps and caller
// reporting enabled. w defaults to [os.Stderr].
func NewLogger(w io.Writer, level log.Level) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true, Level: level}
	return log.NewWithOptions(w, opts)
}
