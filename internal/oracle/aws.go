package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"s3verify/internal/config"
	"s3verify/internal/sse"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AWS inspects objects with the AWS SDK HeadObject call.
type AWS struct {
	client *s3.Client
	loc    Locator
}

func NewAWS(client *s3.Client, loc Locator) *AWS {
	return &AWS{client: client, loc: loc}
}

// NewS3Client builds a path-style S3 client for the endpoint and
// credentials in settings. httpClient may be nil.
func NewS3Client(settings config.Settings, httpClient *http.Client) *s3.Client {
	region := settings.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, ""),
		UsePathStyle: true,
	}
	if endpoint := settings.Endpoint; endpoint != "" {
		if !strings.Contains(endpoint, "://") {
			scheme := "https://"
			if !settings.UseSSL {
				scheme = "http://"
			}
			endpoint = scheme + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	if httpClient != nil {
		opts.HTTPClient = httpClient
	}
	return s3.New(opts)
}

// Observe reports the encryption of the object at name, presenting the
// SSE-C key when alg is SSE-C.
func (o *AWS) Observe(ctx context.Context, name string, alg sse.Algorithm, key string) (sse.Observation, error) {
	bucket, objectKey := o.loc.Bucket(), o.loc.Key(name)

	input := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	}
	if alg == sse.SSEC {
		digest, err := sse.CustomerKeyMD5(key)
		if err != nil {
			return sse.Observation{}, err
		}
		input.SSECustomerAlgorithm = aws.String(sse.WireAES256)
		input.SSECustomerKey = aws.String(key)
		input.SSECustomerKeyMD5 = aws.String(digest)
	}

	out, err := o.client.HeadObject(ctx, input)
	if err != nil && alg == sse.SSEC {
		switch statusCode(err) {
		case http.StatusBadRequest:
			slog.Debug("Object is not customer-keyed, retrying head without key", "bucket", bucket, "key", objectKey)
			out, err = o.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: input.Bucket, Key: input.Key})
		case http.StatusForbidden:
			return customerKeyOnly(), nil
		}
	}
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return sse.Observation{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectKey)
		}
		return sse.Observation{}, fmt.Errorf("head %s/%s: %w", bucket, objectKey, err)
	}

	obs := sse.Observation{
		Algorithm:      sse.FromWire(string(out.ServerSideEncryption), aws.ToString(out.SSECustomerAlgorithm)),
		CustomerKeyMD5: aws.ToString(out.SSECustomerKeyMD5),
	}
	if obs.Algorithm.UsesKMS() {
		obs.KMSKeyID = aws.ToString(out.SSEKMSKeyId)
	}
	return obs, nil
}

// AssertEncrypted checks that the object at name is encrypted with alg and,
// when given, key. A mismatch is a *sse.MismatchError.
func (o *AWS) AssertEncrypted(ctx context.Context, name string, alg sse.Algorithm, key string) (sse.Observation, error) {
	obs, err := o.Observe(ctx, name, alg, key)
	if err != nil {
		return obs, err
	}
	return verify(name, obs, alg, key)
}

func statusCode(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
