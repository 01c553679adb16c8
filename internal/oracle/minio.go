package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"s3verify/internal/sse"

	"github.com/minio/minio-go/v7"
)

// Minio inspects objects with minio-go StatObject.
type Minio struct {
	client *minio.Client
	loc    Locator
}

func NewMinio(client *minio.Client, loc Locator) *Minio {
	return &Minio{client: client, loc: loc}
}

// Observe reports the encryption of the object at name. For SSE-C the key
// is presented so that the store answers at all; when the object turns out
// not to be customer-keyed it is looked at again without the key.
func (o *Minio) Observe(ctx context.Context, name string, alg sse.Algorithm, key string) (sse.Observation, error) {
	bucket, objectKey := o.loc.Bucket(), o.loc.Key(name)

	read, err := sse.ReadOption(alg, key)
	if err != nil {
		return sse.Observation{}, err
	}

	info, err := o.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{ServerSideEncryption: read})
	if err != nil && read != nil {
		switch minio.ToErrorResponse(err).StatusCode {
		case http.StatusBadRequest:
			slog.Debug("Object is not customer-keyed, retrying stat without key", "bucket", bucket, "key", objectKey)
			info, err = o.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
		case http.StatusForbidden:
			return customerKeyOnly(), nil
		}
	}
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return sse.Observation{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectKey)
		}
		return sse.Observation{}, fmt.Errorf("stat %s/%s: %w", bucket, objectKey, err)
	}

	return sse.ObservationFromHeaders(info.Metadata), nil
}

// AssertEncrypted checks that the object at name is encrypted with alg and,
// when given, key. A mismatch is a *sse.MismatchError.
func (o *Minio) AssertEncrypted(ctx context.Context, name string, alg sse.Algorithm, key string) (sse.Observation, error) {
	obs, err := o.Observe(ctx, name, alg, key)
	if err != nil {
		return obs, err
	}
	return verify(name, obs, alg, key)
}
