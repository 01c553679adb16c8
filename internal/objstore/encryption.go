package objstore

import (
	"crypto/md5"
	"encoding/base64"
	"net/http"
	"strings"

	"s3verify/internal/sse"
)

// objectEncryption is what a PUT or COPY asked the store to apply, as it is
// persisted and reported back.
type objectEncryption struct {
	// Algorithm is the x-amz-server-side-encryption value, empty for SSE-C
	// and plain objects.
	Algorithm         string
	KMSKeyID          string
	CustomerAlgorithm string
	CustomerKeyMD5    string
}

func (e objectEncryption) customerKeyed() bool {
	return e.CustomerAlgorithm != ""
}

// writeHeaders reports the encryption of an object the way S3 does on PUT,
// COPY, HEAD and GET responses.
func (e objectEncryption) writeHeaders(h http.Header) {
	if e.Algorithm != "" {
		h.Set(sse.HeaderSSE, e.Algorithm)
	}
	if e.KMSKeyID != "" {
		h.Set(sse.HeaderKMSKeyID, e.KMSKeyID)
	}
	if e.customerKeyed() {
		h.Set(sse.HeaderCustomerAlgorithm, e.CustomerAlgorithm)
		h.Set(sse.HeaderCustomerKeyMD5, e.CustomerKeyMD5)
	}
}

// s3Fault is a request problem that maps onto an S3 error response.
type s3Fault struct {
	Code    string
	Message string
	Status  int
}

func (f *s3Fault) Error() string {
	return f.Code + ": " + f.Message
}

func (f *s3Fault) write(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, f.Code, f.Message, r.URL.Path, f.Status)
}

func invalidArgument(msg string) *s3Fault {
	return &s3Fault{Code: "InvalidArgument", Message: msg, Status: http.StatusBadRequest}
}

// customerKeyHeaders names one of the two SSE-C header families: the
// object's own, or the copy source's.
type customerKeyHeaders struct {
	Algorithm string
	Key       string
	KeyMD5    string
}

var (
	objectCustomerHeaders = customerKeyHeaders{sse.HeaderCustomerAlgorithm, sse.HeaderCustomerKey, sse.HeaderCustomerKeyMD5}
	copyCustomerHeaders   = customerKeyHeaders{sse.HeaderCopyCustomerAlgorithm, sse.HeaderCopyCustomerKey, sse.HeaderCopyCustomerKeyMD5}
)

func (c customerKeyHeaders) present(h http.Header) bool {
	return h.Get(c.Algorithm) != "" || h.Get(c.Key) != "" || h.Get(c.KeyMD5) != ""
}

// digest validates an SSE-C header set and returns the base64 MD5 of the
// key.
func (c customerKeyHeaders) digest(h http.Header) (string, *s3Fault) {
	if alg := h.Get(c.Algorithm); alg != "AES256" {
		return "", &s3Fault{
			Code:    "InvalidEncryptionAlgorithmError",
			Message: "The Encryption request you specified is not valid. Supported value: AES256.",
			Status:  http.StatusBadRequest,
		}
	}

	raw, err := sse.DecodeCustomerKey(h.Get(c.Key))
	if err != nil {
		return "", invalidArgument("The secret key was invalid for the specified algorithm.")
	}

	sum := md5.Sum(raw)
	digest := base64.StdEncoding.EncodeToString(sum[:])
	if given := h.Get(c.KeyMD5); given != "" && given != digest {
		return "", invalidArgument("The calculated MD5 hash of the key did not match the hash that was provided.")
	}
	return digest, nil
}

// requestedEncryption reads the encryption a write request asks for.
// Short KMS key ids are qualified into ARNs, and aws:kms without a key
// selects the managed default key.
func (s *Server) requestedEncryption(r *http.Request) (objectEncryption, *s3Fault) {
	h := r.Header
	sseHeader := h.Get(sse.HeaderSSE)
	kmsKey := strings.TrimSpace(h.Get(sse.HeaderKMSKeyID))

	if objectCustomerHeaders.present(h) {
		if sseHeader != "" {
			return objectEncryption{}, invalidArgument("Server Side Encryption with Customer provided key is incompatible with the encryption method specified")
		}
		if r.TLS == nil && !s.cfg.AllowInsecureCustomerKeys {
			return objectEncryption{}, &s3Fault{
				Code:    "InvalidRequest",
				Message: "Requests specifying Server Side Encryption with Customer provided keys must be made over a secure connection.",
				Status:  http.StatusBadRequest,
			}
		}

		digest, fault := objectCustomerHeaders.digest(h)
		if fault != nil {
			return objectEncryption{}, fault
		}
		return objectEncryption{CustomerAlgorithm: "AES256", CustomerKeyMD5: digest}, nil
	}

	switch sseHeader {
	case "":
		if kmsKey != "" {
			return objectEncryption{}, invalidArgument("Server Side Encryption with AWS KMS managed key requires HTTP header x-amz-server-side-encryption : aws:kms")
		}
		return objectEncryption{}, nil
	case sse.WireAES256:
		if kmsKey != "" {
			return objectEncryption{}, invalidArgument("Server Side Encryption with AWS KMS managed key requires HTTP header x-amz-server-side-encryption : aws:kms")
		}
		return objectEncryption{Algorithm: sse.WireAES256}, nil
	case sse.WireKMS, sse.WireKMSDSSE:
		return objectEncryption{
			Algorithm: sseHeader,
			KMSKeyID:  sse.QualifyKeyID(s.cfg.Region, s.cfg.KMSAccount, kmsKey),
		}, nil
	}
	return objectEncryption{}, invalidArgument("The encryption method specified is not supported")
}

// checkReadAccess enforces that SSE-C objects are only read with their key
// and that SSE-C parameters are not sent for other objects.
func checkReadAccess(h http.Header, headers customerKeyHeaders, enc objectEncryption) *s3Fault {
	if !enc.customerKeyed() {
		if headers.present(h) {
			return &s3Fault{Code: "InvalidRequest", Message: "The encryption parameters are not applicable to this object.", Status: http.StatusBadRequest}
		}
		return nil
	}

	if !headers.present(h) {
		return &s3Fault{
			Code:    "InvalidRequest",
			Message: "The object was stored using a form of Server Side Encryption. The correct parameters must be provided to retrieve the object.",
			Status:  http.StatusBadRequest,
		}
	}

	digest, fault := headers.digest(h)
	if fault != nil {
		return fault
	}
	if digest != enc.CustomerKeyMD5 {
		return &s3Fault{Code: "AccessDenied", Message: "Access Denied", Status: http.StatusForbidden}
	}
	return nil
}
