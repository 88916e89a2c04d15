package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// It must be called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "prune job")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("PANIC recovered")
	}
}

// RecoverToError converts a recovered value into an error, logging the stack.
// Intended for named-result functions:
//
//	defer func() {
//	    if perr := observability.RecoverToError(logger, "aggregate views", recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func RecoverToError(logger *Logger, where string, r interface{}) error {
	if r == nil {
		return nil
	}
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
	return fmt.Errorf("panic in %s: %v", where, r)
}
