package depset

import "go.uber.org/zap"

// FaultReporter is the process-wide sink notified when a registered future
// resolves to an unexpected failure. Faults surface through this channel
// rather than as errors to unrelated callers; the failed entry itself stays
// in the cache until explicitly invalidated.
//
// Implementations must be safe for concurrent use.
type FaultReporter interface {
	ReportFault(err error)
}

// NopFaultReporter returns a reporter that discards faults.
func NopFaultReporter() FaultReporter {
	return nopFaultReporter{}
}

type nopFaultReporter struct{}

func (nopFaultReporter) ReportFault(error) {}

// NewLogFaultReporter returns a reporter that logs faults through the given
// logger. A nil logger disables output.
func NewLogFaultReporter(log *zap.Logger) FaultReporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &logFaultReporter{log: log}
}

type logFaultReporter struct {
	log *zap.Logger
}

func (r *logFaultReporter) ReportFault(err error) {
	r.log.Error("cache population failed", zap.Error(err))
}
