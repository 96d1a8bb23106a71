package corow

import (
	"go.uber.org/zap"

	"github.com/ygrebnov/corow/metrics"
)

// scopeOptions is the option-collecting struct NewScope builds up before
// assembling the root Context, mirroring the teacher's options-builder
// base-then-override pattern (SPEC_FULL.md §4.14).
type scopeOptions struct {
	cfg        RuntimeConfig
	dispatcher Dispatcher
	logger     *zap.Logger
	handler    ExceptionHandler
	name       string
	metrics    metrics.Provider
}

// defaultScopeOptions centralizes the baseline NewScope starts from before
// applying caller-supplied Options.
func defaultScopeOptions() scopeOptions {
	return scopeOptions{cfg: defaultRuntimeConfig()}
}
