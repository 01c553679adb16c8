package s3fs

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"s3verify/internal/config"
	"s3verify/internal/sse"

	"github.com/minio/minio-go/v7"
)

// Config holds adapter configuration.
type Config struct {
	// Endpoint is host[:port], or a URL whose scheme overrides UseSSL.
	Endpoint string

	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool

	// Client is an optional pre-configured client. When set, the
	// connection fields above are ignored.
	Client *minio.Client

	// Transport is used for new clients, e.g. to trust a test certificate.
	Transport http.RoundTripper

	// Encryption is applied to every PUT and COPY the adapter issues.
	Encryption    sse.Algorithm
	EncryptionKey string

	// MaxRenameConcurrency limits concurrent copies during directory
	// rename. Default: 10.
	MaxRenameConcurrency int

	// DropEncryptionOnCopy issues copies without encryption headers. It
	// reproduces adapters that lose encryption on rename.
	DropEncryptionOnCopy bool
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return errors.New("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return errors.New("secret key is required when client is not provided")
	}
	return nil
}

// hostAndSecurity splits Endpoint into a minio-go host and the TLS flag.
func (c *Config) hostAndSecurity() (string, bool, error) {
	if !strings.Contains(c.Endpoint, "://") {
		return strings.TrimSuffix(c.Endpoint, "/"), c.UseSSL, nil
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint %q: %w", c.Endpoint, err)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	}
	return "", false, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
}

// ConfigFromSettings maps the adapter keys of a validated configuration
// onto a Config.
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Endpoint:      s.Endpoint,
		Bucket:        s.TestBucket,
		AccessKey:     s.AccessKey,
		SecretKey:     s.SecretKey,
		Region:        s.Region,
		UseSSL:        s.UseSSL,
		Encryption:    s.EncryptionAlgorithm,
		EncryptionKey: s.EncryptionKey,
	}
}
