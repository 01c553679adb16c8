package sse

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7/pkg/encrypt"
)

// ErrClientSide is returned when a server-side option is requested for an
// algorithm the store never applies itself.
var ErrClientSide = errors.New("client-side encryption has no server-side option")

// ServerSide builds the minio-go request option that makes a store apply
// alg. None yields a nil option.
func ServerSide(alg Algorithm, key string) (encrypt.ServerSide, error) {
	switch alg {
	case None:
		return nil, nil
	case SSES3:
		return encrypt.NewSSE(), nil
	case SSEKMS:
		opt, err := encrypt.NewSSEKMS(key, nil)
		if err != nil {
			return nil, fmt.Errorf("SSE-KMS option: %w", err)
		}
		return opt, nil
	case DSSEKMS:
		return dsseKMS{keyID: key}, nil
	case SSEC:
		raw, err := DecodeCustomerKey(key)
		if err != nil {
			return nil, err
		}
		opt, err := encrypt.NewSSEC(raw)
		if err != nil {
			return nil, fmt.Errorf("SSE-C option: %w", err)
		}
		return opt, nil
	case CSEKMS:
		return nil, ErrClientSide
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
}

// ReadOption returns the option a reader must present, which is only
// non-nil for SSE-C.
func ReadOption(alg Algorithm, key string) (encrypt.ServerSide, error) {
	if alg != SSEC {
		return nil, nil
	}
	return ServerSide(alg, key)
}

// dsseKMS requests dual-layer KMS encryption, which minio-go has no
// constructor for.
type dsseKMS struct {
	keyID string
}

func (dsseKMS) Type() encrypt.Type { return encrypt.KMS }

func (s dsseKMS) Marshal(h http.Header) {
	h.Set(HeaderSSE, WireKMSDSSE)
	if s.keyID != "" {
		h.Set(HeaderKMSKeyID, s.keyID)
	}
}
