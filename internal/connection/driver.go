package connection

import (
	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
)

// Driver is the per-reader connection handle the Manager controls.
// *lmpi.Driver implements it.
type Driver interface {
	Start()
	Close() error
	FirstAttempt() <-chan struct{}
	State() lmpi.TCPState
	Stats() lmpi.Stats
	Send(cmd lmpi.Command, param string) bool
	OpenOnce() bool
	Restart() bool
	Emergency() bool
	EmergencyEnd() bool
}

// DriverFactory builds an idle driver. The handler must receive every update
// the driver produces.
type DriverFactory func(cfg lmpi.Config, handler func(lmpi.Update)) Driver

// LMPIFactory returns a factory producing *lmpi.Driver instances that log
// through logger.
func LMPIFactory(logger Logger) DriverFactory {
	return func(cfg lmpi.Config, handler func(lmpi.Update)) Driver {
		d := lmpi.New(cfg, handler)
		if logger != nil {
			d.SetLogger(logger)
		}
		return d
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
