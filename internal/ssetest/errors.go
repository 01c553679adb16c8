package ssetest

import (
	"errors"
	"fmt"

	"s3verify/internal/sse"
)

// ErrEncryptionTestsDisabled is returned when the configuration turns
// encryption tests off. Drivers report it as a skip.
var ErrEncryptionTestsDisabled = errors.New("encryption tests disabled")

// VerificationError is a stored object whose encryption differs from the
// configured one.
type VerificationError struct {
	Path     string
	Expected sse.Algorithm
	Actual   sse.Algorithm

	ExpectedKeyID string
	ActualKeyID   string

	Err error
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("%s: expected encryption %s, actual %s", e.Path, e.Expected, e.Actual)
	if e.ExpectedKeyID != "" || e.ActualKeyID != "" {
		msg += fmt.Sprintf(" (expected key %q, actual key %q)", e.ExpectedKeyID, e.ActualKeyID)
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// ContentError is a read-back that differs from what was written.
type ContentError struct {
	Path     string
	WantSize int64
	GotSize  int64

	// Offset is the first differing byte, or -1 when only the sizes
	// differ.
	Offset int64
}

func (e *ContentError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%s: expected %d bytes, found %d", e.Path, e.WantSize, e.GotSize)
	}
	return fmt.Sprintf("%s: content differs at offset %d of %d", e.Path, e.Offset, e.WantSize)
}
