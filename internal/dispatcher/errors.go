package dispatcher

import "errors"

var (
	ErrMissingHandler    = errors.New("inbound event has no handler")
	ErrUndeclaredHandler = errors.New("handler registered for undeclared event")
	ErrMissingDependency = errors.New("dispatcher dependency is nil")
)
