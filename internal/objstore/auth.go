package objstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const sigV4Prefix = "AWS4-HMAC-SHA256 "

// Credentials is the single key pair a server accepts when authentication
// is enabled.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// sigV4Params holds the fields of an AWS4-HMAC-SHA256 Authorization header.
type sigV4Params struct {
	accessKeyID   string
	date          string
	region        string
	service       string
	signedHeaders []string
	signature     []byte
}

func parseSigV4Authorization(header string) (sigV4Params, bool) {
	var p sigV4Params

	rest, ok := strings.CutPrefix(header, sigV4Prefix)
	if !ok {
		return p, false
	}

	kv := make(map[string]string, 3)
	for _, part := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k != "" {
			kv[k] = strings.TrimSpace(v)
		}
	}

	scope := strings.Split(kv["Credential"], "/")
	if len(scope) != 5 || scope[4] != "aws4_request" || scope[2] == "" || scope[3] == "" {
		return p, false
	}
	if kv["SignedHeaders"] == "" {
		return p, false
	}
	sig, err := hex.DecodeString(kv["Signature"])
	if err != nil || len(sig) == 0 {
		return p, false
	}

	p.accessKeyID, p.date, p.region, p.service = scope[0], scope[1], scope[2], scope[3]
	p.signedHeaders = strings.Split(kv["SignedHeaders"], ";")
	p.signature = sig
	return p, true
}

// uriEncode percent-encodes everything but the unreserved characters, and
// '/' too when encodeSlash is set.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'),
			c == '-', c == '_', c == '.', c == '~',
			c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

func canonicalQueryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, uriEncode(k, true)+"="+uriEncode(v, true))
		}
	}
	return strings.Join(parts, "&")
}

// canonicalRequest builds the SigV4 canonical request. S3 signs the path as
// sent, without a second round of escaping.
func canonicalRequest(r *http.Request, signedHeaders []string, payloadHash string) string {
	names := make([]string, 0, len(signedHeaders))
	var headers strings.Builder
	for _, name := range signedHeaders {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		names = append(names, name)

		value := r.Header.Get(name)
		if name == "host" {
			value = r.Host
			if value == "" {
				value = r.URL.Host
			}
		}
		headers.WriteString(name)
		headers.WriteString(":")
		headers.WriteString(strings.Join(strings.Fields(value), " "))
		headers.WriteString("\n")
	}

	return strings.Join([]string{
		r.Method,
		r.URL.EscapedPath(),
		canonicalQueryString(r.URL),
		headers.String(),
		strings.Join(names, ";"),
		payloadHash,
	}, "\n")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// signature computes the SigV4 signature of r for the given scope.
func signature(secret string, r *http.Request, p sigV4Params) []byte {
	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = "UNSIGNED-PAYLOAD"
	}

	crHash := sha256.Sum256([]byte(canonicalRequest(r, p.signedHeaders, payloadHash)))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		r.Header.Get("X-Amz-Date"),
		strings.Join([]string{p.date, p.region, p.service, "aws4_request"}, "/"),
		hex.EncodeToString(crHash[:]),
	}, "\n")

	key := hmacSHA256([]byte("AWS4"+secret), p.date)
	key = hmacSHA256(key, p.region)
	key = hmacSHA256(key, p.service)
	key = hmacSHA256(key, "aws4_request")
	return hmacSHA256(key, stringToSign)
}

// Authenticate reports whether r carries a valid SigV4 signature made with
// creds.
func (creds Credentials) Authenticate(r *http.Request) bool {
	p, ok := parseSigV4Authorization(r.Header.Get("Authorization"))
	if !ok || p.accessKeyID != creds.AccessKeyID || r.Header.Get("X-Amz-Date") == "" {
		return false
	}
	return hmac.Equal(signature(creds.SecretAccessKey, r, p), p.signature)
}

// RequireAuthentication rejects requests not signed with creds. It must run
// before anything rewrites the request path.
func RequireAuthentication(creds Credentials, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !creds.Authenticate(r) {
			slog.Debug("Rejecting unauthenticated request", "method", r.Method, "path", r.URL.Path)
			writeS3Error(w, "AccessDenied", "Access Denied", r.URL.Path, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
