// Package diag carries the swap engine's console diagnostics: "Swap area
// initialized with N slots" at boot and "Current Threshold = T, Swapping
// K pages" at each controller trigger, backed by go.uber.org/zap for
// structured logging and golang.org/x/text/message for grouping the
// operator-facing counts the way a human reader expects them formatted.
package diag

import (
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Logger wraps a zap.SugaredLogger with the swap engine's fixed console
// lines.
type Logger struct {
	sugar   *zap.SugaredLogger
	printer *message.Printer
}

// New returns a Logger backed by a production zap configuration.
func New() *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{sugar: z.Sugar(), printer: message.NewPrinter(language.English)}
}

// NewNop returns a Logger that discards everything, for tests that do
// not want console noise.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), printer: message.NewPrinter(language.English)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() { _ = l.sugar.Sync() }

// BootInit emits the boot-time diagnostic: "Swap area initialized with
// 800 slots".
func (l *Logger) BootInit(slots int) {
	l.sugar.Infof("Swap area initialized with %s slots", l.printer.Sprintf("%d", slots))
}

// Trigger emits the controller-trigger diagnostic: "Current Threshold =
// T, Swapping K pages".
func (l *Logger) Trigger(threshold, nswap int) {
	l.sugar.Infof("Current Threshold = %s, Swapping %s pages",
		l.printer.Sprintf("%d", threshold), l.printer.Sprintf("%d", nswap))
}

// Warnf logs an operator-facing warning (e.g. a fatal out-of-memory kill
// on the faulting process).
func (l *Logger) Warnf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}
