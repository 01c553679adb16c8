package sse

import (
	"fmt"
	"net/http"
)

// Observation is the encryption state a store reports for one object.
type Observation struct {
	Algorithm      Algorithm
	KMSKeyID       string
	CustomerKeyMD5 string
}

// ObservationFromHeaders reads the encryption attributes out of response
// headers or of a minio-go metadata map converted to headers.
func ObservationFromHeaders(h http.Header) Observation {
	obs := Observation{
		Algorithm:      FromWire(h.Get(HeaderSSE), h.Get(HeaderCustomerAlgorithm)),
		CustomerKeyMD5: h.Get(HeaderCustomerKeyMD5),
	}
	if obs.Algorithm.UsesKMS() {
		obs.KMSKeyID = h.Get(HeaderKMSKeyID)
	}
	return obs
}

// MismatchError describes an object whose reported encryption differs from
// the expected one.
type MismatchError struct {
	Expected Algorithm
	Actual   Algorithm

	ExpectedKeyID string
	ActualKeyID   string
}

func (e *MismatchError) Error() string {
	if e.Expected != e.Actual {
		return fmt.Sprintf("expected encryption %s, found %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("expected %s key %q, found %q", e.Expected, e.ExpectedKeyID, e.ActualKeyID)
}

// Verify compares an observation with the expected algorithm and key. For
// KMS algorithms key is a key id or ARN; for SSE-C it is the base64 customer
// key, compared through its MD5 digest. Client-side encryption leaves no
// server attribute, so CSE-KMS expects a plain object.
func Verify(expected Algorithm, key string, obs Observation) error {
	want := expected
	if expected == CSEKMS {
		want = None
	}

	if obs.Algorithm != want {
		return &MismatchError{Expected: want, Actual: obs.Algorithm, ExpectedKeyID: key, ActualKeyID: obs.KMSKeyID}
	}

	switch {
	case want.UsesKMS():
		if !KeyIDMatches(key, obs.KMSKeyID) {
			return &MismatchError{Expected: want, Actual: obs.Algorithm, ExpectedKeyID: key, ActualKeyID: obs.KMSKeyID}
		}
	case want == SSEC:
		digest, err := CustomerKeyMD5(key)
		if err != nil {
			return err
		}
		if digest != obs.CustomerKeyMD5 {
			return &MismatchError{Expected: want, Actual: obs.Algorithm, ExpectedKeyID: digest, ActualKeyID: obs.CustomerKeyMD5}
		}
	}
	return nil
}
