package logging

import (
	"github.com/hashicorp/go-multierror"

	"github.com/kcz17/benchram/reporting"
)

// noopLogger discards every report.
type noopLogger struct{}

func NewNoopLogger() *noopLogger {
	return &noopLogger{}
}

func (*noopLogger) Open(*reporting.Session) error {
	return nil
}

func (*noopLogger) Interval(*reporting.IntervalReport) error {
	return nil
}

func (*noopLogger) Terminal(*reporting.TerminalReport) error {
	return nil
}

func (*noopLogger) Close() error {
	return nil
}

// multiLogger fans reports out to several sinks in order. The first error
// from Open, Interval or Terminal is returned immediately; Close always
// closes every sink and returns the combined errors.
type multiLogger struct {
	sinks []reporting.Sink
}

func NewMultiLogger(sinks ...reporting.Sink) *multiLogger {
	return &multiLogger{sinks: sinks}
}

func (l *multiLogger) Open(session *reporting.Session) error {
	for _, sink := range l.sinks {
		if err := sink.Open(session); err != nil {
			return err
		}
	}
	return nil
}

func (l *multiLogger) Interval(report *reporting.IntervalReport) error {
	for _, sink := range l.sinks {
		if err := sink.Interval(report); err != nil {
			return err
		}
	}
	return nil
}

func (l *multiLogger) Terminal(report *reporting.TerminalReport) error {
	for _, sink := range l.sinks {
		if err := sink.Terminal(report); err != nil {
			return err
		}
	}
	return nil
}

func (l *multiLogger) Close() error {
	var result *multierror.Error
	for _, sink := range l.sinks {
		if err := sink.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
