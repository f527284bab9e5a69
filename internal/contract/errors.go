package contract

import "fmt"

// InterfaceMismatchError reports a call that cannot be expressed with the
// contract's interface description. It is a local error and is never retried.
type InterfaceMismatchError struct {
	Contract string
	Method   string
	Reason   string
	Err      error
}

func (e *InterfaceMismatchError) Error() string {
	if e == nil {
		return "interface mismatch"
	}
	msg := fmt.Sprintf("interface mismatch: %s.%s: %s", e.Contract, e.Method, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InterfaceMismatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
