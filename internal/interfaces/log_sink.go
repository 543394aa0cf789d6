package interfaces

import "github.com/ternarybob/taskferry/internal/models"

// LogSink receives user-visible log lines for one job.
// Implementations must be safe for concurrent use.
type LogSink interface {
	Log(severity models.Severity, message string)
}

// LogSinkFunc adapts a function to LogSink
type LogSinkFunc func(severity models.Severity, message string)

func (f LogSinkFunc) Log(severity models.Severity, message string) {
	f(severity, message)
}

// DiscardSink drops every line
var DiscardSink LogSink = LogSinkFunc(func(models.Severity, string) {})
