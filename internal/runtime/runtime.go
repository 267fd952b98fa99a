// Package runtime holds types shared by the process runtime and its callers.
package runtime

import "time"

// Log sources attached to LogEntry.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry is a single line of output captured from a child process.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Source    string
	Level     string
}
