package config

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"s3verify/internal/sse"
)

// DefaultBoundarySize is the largest size in the default encryption size
// matrix: one below a 4 KiB page.
const DefaultBoundarySize = 1<<12 - 1

// Settings is the typed view of a Configuration. Only Configuration.Settings
// produces one, so every field has passed validation.
type Settings struct {
	EncryptionAlgorithm sse.Algorithm
	EncryptionKey       string

	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	DisableCache bool

	MetadataStore   string
	TableName       string
	TestTableName   string
	TableRegion     string
	BackgroundSleep time.Duration
	TableTags       map[string]string

	// TestBucket is the bucket named by test.fs.s3a.name, without scheme.
	TestBucket             string
	EncryptionTestsEnabled bool
	BoundarySize           int
}

// Settings validates the configuration and returns its typed view. All
// problems found are reported together.
func (c *Configuration) Settings() (Settings, error) {
	var errs []error

	s := Settings{
		EncryptionKey: c.GetTrimmed(KeyEncryptionKey),
		Endpoint:      c.GetTrimmed(KeyEndpoint),
		AccessKey:     c.GetTrimmed(KeyAccessKey),
		SecretKey:     c.GetTrimmed(KeySecretKey),
		Region:        c.GetTrimmed(KeyRegion),
		MetadataStore: strings.ToLower(c.GetTrimmed(KeyMetadataStoreImpl)),
		TableName:     c.GetTrimmed(KeyTableName),
		TestTableName: c.GetTrimmed(KeyTestTableName),
		TableRegion:   c.GetTrimmed(KeyTableRegion),
		TableTags:     c.PropsWithPrefix(PrefixTableTag),
	}

	alg, err := sse.Parse(c.Get(KeyEncryptionAlgorithm))
	if err != nil {
		errs = append(errs, &ValidationError{Key: KeyEncryptionAlgorithm, Value: c.Get(KeyEncryptionAlgorithm), Reason: "unknown encryption algorithm", Err: err})
	}
	s.EncryptionAlgorithm = alg

	if err == nil {
		if err := sse.ValidateKey(alg, s.EncryptionKey); err != nil {
			errs = append(errs, &ValidationError{Key: KeyEncryptionKey, Value: redact(s.EncryptionKey), Reason: "unusable key for " + alg.String(), Err: err})
		}
	}

	if s.UseSSL, err = c.GetBool(KeySSLEnabled, true); err != nil {
		errs = append(errs, err)
	}
	if s.DisableCache, err = c.GetBool(KeyDisableCache, false); err != nil {
		errs = append(errs, err)
	}
	if s.EncryptionTestsEnabled, err = c.GetBool(KeyEncryptionTestsEnabled, true); err != nil {
		errs = append(errs, err)
	}

	if s.BoundarySize, err = c.GetInt(KeyBoundarySize, DefaultBoundarySize); err != nil {
		errs = append(errs, err)
	} else if s.BoundarySize < 0 {
		errs = append(errs, &ValidationError{Key: KeyBoundarySize, Value: c.Get(KeyBoundarySize), Reason: "must not be negative"})
	}

	if s.BackgroundSleep, err = ParseDelay(c.GetTrimmed(KeyBackgroundSleep)); err != nil {
		errs = append(errs, &ValidationError{Key: KeyBackgroundSleep, Value: c.Get(KeyBackgroundSleep), Reason: "not a delay", Err: err})
	}

	if s.TestBucket, err = ParseBucketURI(c.GetTrimmed(KeyTestBucket)); err != nil {
		errs = append(errs, &ValidationError{Key: KeyTestBucket, Value: c.Get(KeyTestBucket), Reason: "not a bucket URI", Err: err})
	}

	switch s.MetadataStore {
	case "", MetadataStoreDynamo, MetadataStoreLocal, MetadataStoreNull:
	default:
		errs = append(errs, &ValidationError{Key: KeyMetadataStoreImpl, Value: s.MetadataStore, Reason: "unknown metadata store"})
	}

	return s, errors.Join(errs...)
}

// ParseDelay accepts either a bare number of milliseconds or a Go duration
// string. An empty value is zero.
func ParseDelay(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return 0, errors.New("negative delay")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("negative delay")
	}
	return d, nil
}

// ParseBucketURI extracts the bucket from an s3a:// or s3:// URI. An empty
// value yields an empty bucket.
func ParseBucketURI(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "s3a", "s3":
	default:
		return "", errors.New("scheme must be s3a or s3")
	}

	if u.Host == "" {
		return "", errors.New("missing bucket")
	}
	return u.Host, nil
}

// TestBucket returns the bucket named by test.fs.s3a.name, or "" when it is
// unset or malformed.
func (c *Configuration) TestBucket() string {
	bucket, err := ParseBucketURI(c.GetTrimmed(KeyTestBucket))
	if err != nil {
		return ""
	}
	return bucket
}

func redact(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-4)
}
