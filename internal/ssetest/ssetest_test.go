package ssetest_test

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"

	"s3verify/internal/config"
	"s3verify/internal/objstore/objstoretest"
	"s3verify/internal/oracle"
	"s3verify/internal/s3fs"
	"s3verify/internal/sse"
	"s3verify/internal/ssetest"

	"github.com/stretchr/testify/require"
)

const (
	customerKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
	testBucket  = "data"
)

func baseConfiguration(e *objstoretest.Endpoint) *config.Configuration {
	return config.FromMap(map[string]string{
		config.KeyEndpoint:   e.URL(),
		config.KeyAccessKey:  objstoretest.AccessKey,
		config.KeySecretKey:  objstoretest.SecretKey,
		config.KeyRegion:     objstoretest.Region,
		config.KeyTestBucket: "s3a://" + testBucket,
	})
}

// opener opens the adapter on e and pairs it with the named oracle.
func opener(e *objstoretest.Endpoint, oracleKind string, customize ...func(*s3fs.Config)) ssetest.Opener {
	return func(t testing.TB, conf *config.Configuration) (ssetest.FileSystem, ssetest.EncryptionOracle) {
		t.Helper()

		customize := append([]func(*s3fs.Config){func(c *s3fs.Config) { c.Transport = e.Transport() }}, customize...)
		f, err := s3fs.Open(conf, customize...)
		require.NoError(t, err, "s3fs.Open")

		if oracleKind == "aws" {
			settings, err := conf.ForBucket(conf.TestBucket()).Settings()
			require.NoError(t, err)
			return f, oracle.NewAWS(oracle.NewS3Client(settings, e.Client()), f)
		}
		return f, oracle.NewMinio(f.Client(), f)
	}
}

func TestPatchConfigurationEncryptionSettings(t *testing.T) {
	t.Parallel()

	conf := config.FromMap(map[string]string{
		config.KeyTestBucket:          "s3a://" + testBucket,
		config.KeyEncryptionAlgorithm: "SSE-C",
		config.KeyEncryptionKey:       customerKey,
		config.BucketKey(testBucket, config.KeyEncryptionAlgorithm): "SSE-KMS",
		config.BucketKey(testBucket, config.KeyEncryptionKey):       "key-1",
		config.BucketKey("other", config.KeyEncryptionAlgorithm):    "SSE-KMS",
	})

	ssetest.PatchConfigurationEncryptionSettings(conf, sse.SSES3)

	require.Equal(t, "AES256", conf.Get(config.KeyEncryptionAlgorithm))
	_, ok := conf.Lookup(config.KeyEncryptionKey)
	require.False(t, ok, "base key removed")
	_, ok = conf.Lookup(config.BucketKey(testBucket, config.KeyEncryptionAlgorithm))
	require.False(t, ok, "bucket algorithm removed")
	_, ok = conf.Lookup(config.BucketKey(testBucket, config.KeyEncryptionKey))
	require.False(t, ok, "bucket key removed")
	require.Equal(t, "SSE-KMS", conf.Get(config.BucketKey("other", config.KeyEncryptionAlgorithm)), "other buckets untouched")

	once := conf.Clone()
	ssetest.PatchConfigurationEncryptionSettings(conf, sse.SSES3)
	require.True(t, once.Equal(conf), "patching twice changes nothing")

	alg, err := sse.Parse(conf.ForBucket(testBucket).Get(config.KeyEncryptionAlgorithm))
	require.NoError(t, err)
	require.Equal(t, sse.SSES3, alg, "bucket view sees the patched algorithm")
}

func TestCreateConfiguration(t *testing.T) {
	t.Parallel()

	base := config.FromMap(map[string]string{
		config.KeyTestBucket:          "s3a://" + testBucket,
		config.KeyEncryptionAlgorithm: "SSE-KMS",
		config.KeyDisableCache:        "false",
	})
	snapshot := base.Clone()

	conf := ssetest.CreateConfiguration(base, sse.DSSEKMS)

	require.True(t, snapshot.Equal(base), "base is not mutated")
	require.Equal(t, "DSSE-KMS", conf.Get(config.KeyEncryptionAlgorithm))

	disabled, err := conf.GetBool(config.KeyDisableCache, false)
	require.NoError(t, err)
	require.True(t, disabled)
}

func TestFilenames(t *testing.T) {
	t.Parallel()

	h := &ssetest.Harness{Method: "testEncryption"}

	tests := []struct {
		size int
		want string
	}{
		{size: 0, want: "testEncryption-0000"},
		{size: 5, want: "testEncryption-0005"},
		{size: 255, want: "testEncryption-00ff"},
		{size: 4095, want: "testEncryption-0fff"},
		{size: 1 << 16, want: "testEncryption-10000"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, h.Filename(tc.size))
	}
	require.Equal(t, "testEncryption-source", h.FilenameFor("source"))
}

func TestDataset(t *testing.T) {
	t.Parallel()

	require.Empty(t, ssetest.Dataset(0))
	require.Equal(t, "abcdefghijklmnopqrstuvwxyzab", string(ssetest.Dataset(28)))

	data := ssetest.Dataset(4095)
	require.Len(t, data, 4095)
	require.Equal(t, byte('a'+4094%26), data[4094])
}

func TestSizes(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 254, 255, 256, 257, 4095}, ssetest.DefaultSizes)

	h := &ssetest.Harness{Conf: config.New()}
	sizes, err := h.Sizes()
	require.NoError(t, err)
	require.Equal(t, ssetest.DefaultSizes, sizes)

	h.Conf.SetInt(config.KeyBoundarySize, 8191)
	sizes, err = h.Sizes()
	require.NoError(t, err)
	require.Equal(t, 8191, sizes[len(sizes)-1])
	require.Equal(t, 4095, ssetest.DefaultSizes[len(ssetest.DefaultSizes)-1], "defaults are not modified")

	for _, boundary := range []int{0, 5, 257} {
		h.Conf.SetInt(config.KeyBoundarySize, boundary)
		sizes, err = h.Sizes()
		require.NoError(t, err)
		require.Equal(t, ssetest.DefaultSizes[:len(ssetest.DefaultSizes)-1], sizes, "boundary %d is already a fixed size", boundary)

		names := make(map[string]bool, len(sizes))
		for _, size := range sizes {
			names[h.Filename(size)] = true
		}
		require.Len(t, names, len(sizes), "one file per size")
	}

	h.Conf.Set(config.KeyBoundarySize, "-1")
	_, err = h.Sizes()
	var invalid *config.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestSuite(t *testing.T) {
	t.Parallel()

	e := objstoretest.Start(t)
	e.CreateBucket(t, testBucket)

	variants := []ssetest.Variant{
		{Name: "none", Algorithm: sse.None},
		{Name: "sse-s3", Algorithm: sse.SSES3},
		{Name: "sse-kms-default", Algorithm: sse.SSEKMS},
		{Name: "sse-kms", Algorithm: sse.SSEKMS, Key: "key-1"},
		{Name: "sse-kms-arn", Algorithm: sse.SSEKMS, Key: "arn:aws:kms:us-east-1:000000000000:key/key-2"},
		{Name: "dsse-kms", Algorithm: sse.DSSEKMS, Key: "key-3"},
		{Name: "sse-c", Algorithm: sse.SSEC, Key: customerKey},
	}

	for _, kind := range []string{"minio", "aws"} {
		for _, v := range variants {
			v.Base = baseConfiguration(e)
			v.Open = opener(e, kind)
			v.Parallel = true

			t.Run(kind+"/"+v.Name, func(t *testing.T) {
				t.Parallel()
				ssetest.Suite(t, v)
			})
		}
	}
}

func TestEncryptionLostOnRename(t *testing.T) {
	t.Parallel()

	e := objstoretest.Start(t)
	e.CreateBucket(t, testBucket)

	v := ssetest.Variant{
		Algorithm: sse.SSES3,
		Base:      baseConfiguration(e),
		Open:      opener(e, "minio", func(c *s3fs.Config) { c.DropEncryptionOnCopy = true }),
	}
	h := ssetest.NewTestHarness(t, v)

	err := h.ValidateEncryptionOverRename(context.Background())

	var verr *ssetest.VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, sse.SSES3, verr.Expected)
	require.Equal(t, sse.None, verr.Actual)
	require.Equal(t, h.Path(path.Join("target", h.Filename(ssetest.RenameDataSize))), verr.Path)
	require.True(t, strings.HasSuffix(verr.Path, "-0400"), "renamed file is named after its size")

	var mismatch *sse.MismatchError
	require.ErrorAs(t, err, &mismatch, "oracle error is kept")
}

func TestWrongKMSKey(t *testing.T) {
	t.Parallel()

	e := objstoretest.Start(t)
	e.CreateBucket(t, testBucket)

	v := ssetest.Variant{
		Algorithm: sse.SSEKMS,
		Key:       "key-1",
		Base:      baseConfiguration(e),
		Open:      opener(e, "aws"),
	}
	h := ssetest.NewTestHarness(t, v)

	// The adapter writes with key-1 but the assertion expects key-2.
	h.Conf.Set(config.KeyEncryptionKey, "key-2")
	err := h.ValidateEncryptionForFileSize(context.Background(), 16)

	var verr *ssetest.VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, sse.SSEKMS, verr.Actual)
	require.Equal(t, "key-2", verr.ExpectedKeyID)
	require.Equal(t, "arn:aws:kms:us-east-1:000000000000:key/key-1", verr.ActualKeyID)
}

func TestZeroFilledKMSObject(t *testing.T) {
	t.Parallel()

	e := objstoretest.Start(t)
	e.CreateBucket(t, testBucket)

	v := ssetest.Variant{
		Algorithm: sse.SSEKMS,
		Key:       "arn:aws:kms:us-east-1:000000000000:key/abc",
		Base:      baseConfiguration(e),
		Open:      opener(e, "minio"),
		Data:      func(size int) []byte { return make([]byte, size) },
	}
	h := ssetest.NewTestHarness(t, v)

	require.NoError(t, h.ValidateEncryptionForFileSize(context.Background(), 256))

	exists, err := h.FS.Delete(context.Background(), h.Path(h.Filename(256)), false)
	require.NoError(t, err)
	require.False(t, exists, "file is removed after validation")
}

func TestEncryptionTestsDisabled(t *testing.T) {
	t.Parallel()

	e := objstoretest.Start(t)
	e.CreateBucket(t, testBucket)

	base := baseConfiguration(e)
	base.SetBool(config.KeyEncryptionTestsEnabled, false)
	v := ssetest.Variant{Algorithm: sse.SSES3, Base: base, Open: opener(e, "minio")}

	h := ssetest.NewTestHarness(t, v)
	require.ErrorIs(t, h.ValidateEncryptionForFileSize(context.Background(), 1), ssetest.ErrEncryptionTestsDisabled)
	require.ErrorIs(t, h.ValidateEncryptionOverRename(context.Background()), ssetest.ErrEncryptionTestsDisabled)

	var sizes, rename *testing.T
	t.Run("sizes", func(t *testing.T) {
		sizes = t
		ssetest.TestEncryption(t, v)
	})
	t.Run("rename", func(t *testing.T) {
		rename = t
		ssetest.TestEncryptionOverRename(t, v)
	})
	require.True(t, sizes.Skipped())
	require.True(t, rename.Skipped())
}

// faultyFS corrupts reads or fails writes of the wrapped adapter.
type faultyFS struct {
	ssetest.FileSystem

	corruptAt int
	writeErr  error
}

func (f *faultyFS) WriteFile(ctx context.Context, name string, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.FileSystem.WriteFile(ctx, name, data)
}

func (f *faultyFS) ReadFile(ctx context.Context, name string) ([]byte, error) {
	data, err := f.FileSystem.ReadFile(ctx, name)
	if err == nil && f.corruptAt >= 0 && f.corruptAt < len(data) {
		data[f.corruptAt] ^= 0xff
	}
	return data, err
}

func TestAdapterFaults(t *testing.T) {
	t.Parallel()

	e := objstoretest.Start(t)
	e.CreateBucket(t, testBucket)

	errInjected := errors.New("injected write failure")

	tests := []struct {
		name  string
		fault *faultyFS
		check func(t *testing.T, err error)
	}{
		{
			name:  "corrupt read",
			fault: &faultyFS{corruptAt: 3},
			check: func(t *testing.T, err error) {
				var cerr *ssetest.ContentError
				require.ErrorAs(t, err, &cerr)
				require.EqualValues(t, 3, cerr.Offset)
				require.EqualValues(t, 257, cerr.WantSize)
			},
		},
		{
			name:  "failed write",
			fault: &faultyFS{corruptAt: -1, writeErr: errInjected},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, errInjected)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			open := opener(e, "minio")
			v := ssetest.Variant{
				Algorithm: sse.SSES3,
				Base:      baseConfiguration(e),
				Open: func(t testing.TB, conf *config.Configuration) (ssetest.FileSystem, ssetest.EncryptionOracle) {
					fsys, o := open(t, conf)
					tc.fault.FileSystem = fsys
					return tc.fault, o
				},
			}
			h := ssetest.NewTestHarness(t, v)
			tc.check(t, h.ValidateEncryptionForFileSize(context.Background(), 257))
		})
	}
}
