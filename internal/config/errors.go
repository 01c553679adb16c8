package config

import "fmt"

// ValidationError reports a property whose value cannot be used.
type ValidationError struct {
	Key    string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid value %q for %s: %s", e.Value, e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
