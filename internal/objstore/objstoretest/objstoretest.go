// Package objstoretest starts an in-process objstore endpoint for tests.
package objstoretest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"s3verify/internal/objstore"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
)

// Credentials the clients sign with. The endpoint only checks them when
// started with objstore.WithCredentials(AccessKey, SecretKey).
const (
	AccessKey = "objstore"
	SecretKey = "objstore-secret"
	Region    = "us-east-1"
)

// Endpoint is a running objstore server behind an httptest TLS listener.
type Endpoint struct {
	Server *objstore.Server
	HTTP   *httptest.Server
}

// Start runs a fresh server with its own data directory. Both are torn down
// when the test ends.
func Start(t testing.TB, opts ...objstore.Option) *Endpoint {
	t.Helper()

	opts = append([]objstore.Option{
		objstore.WithDataDir(t.TempDir()),
		objstore.WithRegion(Region),
	}, opts...)

	srv, err := objstore.NewServer(context.Background(), opts...)
	require.NoError(t, err, "NewServer error")
	t.Cleanup(func() { _ = srv.Close() })

	httpSrv := httptest.NewTLSServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return &Endpoint{Server: srv, HTTP: httpSrv}
}

// URL is the https base URL of the endpoint.
func (e *Endpoint) URL() string {
	return e.HTTP.URL
}

// Host is the host:port of the endpoint.
func (e *Endpoint) Host() string {
	u, _ := url.Parse(e.HTTP.URL)
	return u.Host
}

// Client returns an HTTP client trusting the endpoint's certificate.
func (e *Endpoint) Client() *http.Client {
	return e.HTTP.Client()
}

// Transport is the round tripper of Client, for SDKs that take one.
func (e *Endpoint) Transport() http.RoundTripper {
	return e.HTTP.Client().Transport
}

// MinioOptions returns client options for path-style access over TLS.
func (e *Endpoint) MinioOptions() *minio.Options {
	return &minio.Options{
		Creds:        credentials.NewStaticV4(AccessKey, SecretKey, ""),
		Secure:       true,
		Transport:    e.Transport(),
		Region:       Region,
		BucketLookup: minio.BucketLookupPath,
	}
}

// MinioClient returns a minio-go client for the endpoint.
func (e *Endpoint) MinioClient(t testing.TB) *minio.Client {
	t.Helper()

	client, err := minio.New(e.Host(), e.MinioOptions())
	require.NoError(t, err, "minio.New error")
	return client
}

// CreateBucket creates bucket, failing the test on error.
func (e *Endpoint) CreateBucket(t testing.TB, bucket string) {
	t.Helper()

	err := e.MinioClient(t).MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{Region: Region})
	require.NoErrorf(t, err, "create bucket %s", bucket)
}
