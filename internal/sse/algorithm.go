// Package sse names the server-side encryption algorithms an object store can
// apply and compares what a store reports against what was requested.
package sse

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Algorithm is an encryption method selectable for an adapter.
type Algorithm int

const (
	None Algorithm = iota
	SSES3
	SSEKMS
	SSEC
	DSSEKMS
	// CSEKMS is client-side encryption. It can be configured but no server
	// attribute reports it, so the object store never observes it.
	CSEKMS
)

// Wire values of the x-amz-server-side-encryption header.
const (
	WireAES256  = "AES256"
	WireKMS     = "aws:kms"
	WireKMSDSSE = "aws:kms:dsse"
)

// HTTP headers carrying encryption parameters.
const (
	HeaderSSE               = "X-Amz-Server-Side-Encryption"
	HeaderKMSKeyID          = "X-Amz-Server-Side-Encryption-Aws-Kms-Key-Id"
	HeaderKMSContext        = "X-Amz-Server-Side-Encryption-Context"
	HeaderCustomerAlgorithm = "X-Amz-Server-Side-Encryption-Customer-Algorithm"
	HeaderCustomerKey       = "X-Amz-Server-Side-Encryption-Customer-Key"
	HeaderCustomerKeyMD5    = "X-Amz-Server-Side-Encryption-Customer-Key-Md5"

	HeaderCopyCustomerAlgorithm = "X-Amz-Copy-Source-Server-Side-Encryption-Customer-Algorithm"
	HeaderCopyCustomerKey       = "X-Amz-Copy-Source-Server-Side-Encryption-Customer-Key"
	HeaderCopyCustomerKeyMD5    = "X-Amz-Copy-Source-Server-Side-Encryption-Customer-Key-Md5"
)

// CustomerKeySize is the only key length accepted for SSE-C.
const CustomerKeySize = 32

var (
	ErrUnknownAlgorithm = errors.New("unknown encryption algorithm")
	ErrInvalidKey       = errors.New("invalid encryption key")
)

var methods = map[Algorithm]string{
	None:    "",
	SSES3:   "AES256",
	SSEKMS:  "SSE-KMS",
	SSEC:    "SSE-C",
	DSSEKMS: "DSSE-KMS",
	CSEKMS:  "CSE-KMS",
}

// Method returns the canonical configuration name of the algorithm.
func (a Algorithm) Method() string {
	return methods[a]
}

func (a Algorithm) String() string {
	if a == None {
		return "NONE"
	}
	if m, ok := methods[a]; ok {
		return m
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ServerSide reports whether the store itself encrypts the object.
func (a Algorithm) ServerSide() bool {
	switch a {
	case SSES3, SSEKMS, SSEC, DSSEKMS:
		return true
	}
	return false
}

// UsesKMS reports whether a KMS key identifier applies.
func (a Algorithm) UsesKMS() bool {
	return a == SSEKMS || a == DSSEKMS
}

// Wire returns the x-amz-server-side-encryption value, empty for algorithms
// not signalled through that header.
func (a Algorithm) Wire() string {
	switch a {
	case SSES3:
		return WireAES256
	case SSEKMS:
		return WireKMS
	case DSSEKMS:
		return WireKMSDSSE
	}
	return ""
}

// Parse maps a configuration or wire name onto an Algorithm. Matching is
// case-insensitive and an empty value selects None.
func Parse(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return None, nil
	case "AES256", "SSE-S3":
		return SSES3, nil
	case "SSE-KMS", "AWS:KMS":
		return SSEKMS, nil
	case "SSE-C":
		return SSEC, nil
	case "DSSE-KMS", "AWS:KMS:DSSE":
		return DSSEKMS, nil
	case "CSE-KMS":
		return CSEKMS, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// FromWire derives the algorithm a store reported from the generic SSE
// header and the customer algorithm header.
func FromWire(sseHeader, customerAlgorithm string) Algorithm {
	if customerAlgorithm != "" {
		return SSEC
	}

	switch strings.ToLower(sseHeader) {
	case "aes256":
		return SSES3
	case WireKMS:
		return SSEKMS
	case WireKMSDSSE:
		return DSSEKMS
	}
	return None
}

// ValidateKey checks that key is usable with alg. Only SSE-C keys have a
// fixed shape: 32 bytes, base64 encoded.
func ValidateKey(alg Algorithm, key string) error {
	if alg != SSEC {
		return nil
	}

	if _, err := DecodeCustomerKey(key); err != nil {
		return err
	}
	return nil
}

// DecodeCustomerKey decodes a base64 SSE-C key and checks its length. The
// key material never appears in the returned error.
func DecodeCustomerKey(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: SSE-C requires a key", ErrInvalidKey)
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not base64", ErrInvalidKey)
	}
	if len(raw) != CustomerKeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidKey, len(raw), CustomerKeySize)
	}
	return raw, nil
}

// CustomerKeyMD5 returns the base64 MD5 digest a store reports for an SSE-C
// key given in base64.
func CustomerKeyMD5(key string) (string, error) {
	raw, err := DecodeCustomerKey(key)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(raw)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}
