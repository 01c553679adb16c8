// Package oracle reads the encryption a store reports for stored objects.
// It looks at the object itself, never at client configuration, so a
// client that silently drops encryption headers is caught.
package oracle

import (
	"errors"
	"fmt"

	"s3verify/internal/sse"
)

// ErrObjectNotFound is returned when the object to inspect does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Locator maps filesystem paths onto bucket and key. *s3fs.FileSystem is
// one.
type Locator interface {
	Bucket() string
	Key(name string) string
}

// verify turns an observation into the result of an encryption assertion.
func verify(name string, obs sse.Observation, expected sse.Algorithm, key string) (sse.Observation, error) {
	if err := sse.Verify(expected, key, obs); err != nil {
		return obs, fmt.Errorf("%s: %w", name, err)
	}
	return obs, nil
}

// customerKeyOnly is what can be said about an SSE-C object read with the
// wrong key: it is customer-keyed, with a key other than the one tried.
func customerKeyOnly() sse.Observation {
	return sse.Observation{Algorithm: sse.SSEC}
}
