package capture

import "go.uber.org/zap"

// tryOptional runs a best-effort protocol call. A failure degrades captured
// detail but never aborts the step; marking swallowed calls through this
// helper keeps the intent visible at each call site.
func tryOptional(log *zap.SugaredLogger, name string, fn func() error) bool {
	if err := fn(); err != nil {
		log.Debugw("optional call failed", "call", name, "error", err)
		return false
	}
	return true
}
