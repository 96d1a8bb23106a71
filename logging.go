package corow

import "go.uber.org/zap"

// fallbackLogger backs DefaultExceptionHandler and LastResortReporter when
// no Context (and therefore no Context-scoped logger) is available. It is
// a production logger rather than zap.NewNop() because these two paths
// only ever fire on errors that would otherwise be silently dropped
// (SPEC_FULL.md §4.13).
var fallbackLogger = mustFallbackLogger()

func mustFallbackLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
