package sse_test

import (
	"net/http"
	"s3verify/internal/sse"
	"testing"

	"github.com/minio/minio-go/v7/pkg/encrypt"
	"github.com/stretchr/testify/require"
)

const (
	customerKey    = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
	customerKeyMD5 = "hRasmdxgYDKV3nvbahU1MA=="
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want sse.Algorithm
	}{
		{in: "", want: sse.None},
		{in: "none", want: sse.None},
		{in: "AES256", want: sse.SSES3},
		{in: "aes256", want: sse.SSES3},
		{in: "SSE-KMS", want: sse.SSEKMS},
		{in: "aws:kms", want: sse.SSEKMS},
		{in: " sse-c ", want: sse.SSEC},
		{in: "DSSE-KMS", want: sse.DSSEKMS},
		{in: "aws:kms:dsse", want: sse.DSSEKMS},
		{in: "CSE-KMS", want: sse.CSEKMS},
	}

	for _, tc := range tests {
		got, err := sse.Parse(tc.in)
		require.NoErrorf(t, err, "input %q", tc.in)
		require.Equalf(t, tc.want, got, "input %q", tc.in)
	}

	_, err := sse.Parse("SSE-AES")
	require.ErrorIs(t, err, sse.ErrUnknownAlgorithm)
}

func TestMethodRoundTrip(t *testing.T) {
	t.Parallel()

	for _, alg := range []sse.Algorithm{sse.None, sse.SSES3, sse.SSEKMS, sse.SSEC, sse.DSSEKMS, sse.CSEKMS} {
		parsed, err := sse.Parse(alg.Method())
		require.NoError(t, err)
		require.Equalf(t, alg, parsed, "method %q should parse back", alg.Method())
	}

	require.Equal(t, "AES256", sse.SSES3.Method())
	require.Equal(t, "NONE", sse.None.String())
	require.True(t, sse.SSEC.ServerSide())
	require.False(t, sse.CSEKMS.ServerSide())
}

func TestFromWire(t *testing.T) {
	t.Parallel()

	require.Equal(t, sse.SSES3, sse.FromWire("AES256", ""))
	require.Equal(t, sse.SSEKMS, sse.FromWire("aws:kms", ""))
	require.Equal(t, sse.DSSEKMS, sse.FromWire("aws:kms:dsse", ""))
	require.Equal(t, sse.SSEC, sse.FromWire("", "AES256"))
	require.Equal(t, sse.None, sse.FromWire("", ""))
}

func TestCustomerKey(t *testing.T) {
	t.Parallel()

	digest, err := sse.CustomerKeyMD5(customerKey)
	require.NoError(t, err)
	require.Equal(t, customerKeyMD5, digest)

	_, err = sse.DecodeCustomerKey("c2hvcnQ=")
	require.ErrorIs(t, err, sse.ErrInvalidKey)
	require.NotContains(t, err.Error(), "c2hvcnQ=")

	_, err = sse.DecodeCustomerKey("not base64!")
	require.ErrorIs(t, err, sse.ErrInvalidKey)

	require.NoError(t, sse.ValidateKey(sse.SSEKMS, ""), "KMS keys are free-form")
	require.Error(t, sse.ValidateKey(sse.SSEC, ""), "SSE-C needs a key")
}

func TestQualifyKeyID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "arn:aws:kms:us-east-1:000000000000:key/1234", sse.QualifyKeyID("us-east-1", sse.DefaultKMSAccount, "1234"))
	require.Equal(t, "arn:aws:kms:eu-west-1:000000000000:alias/data", sse.QualifyKeyID("eu-west-1", sse.DefaultKMSAccount, "alias/data"))
	require.Equal(t, "arn:aws:kms:us-east-1:000000000000:alias/aws/s3", sse.QualifyKeyID("us-east-1", sse.DefaultKMSAccount, ""))

	arn := "arn:aws:kms:us-west-2:111122223333:key/abcd"
	require.Equal(t, arn, sse.QualifyKeyID("us-east-1", sse.DefaultKMSAccount, arn), "ARNs are kept as-is")
}

func TestKeyIDMatches(t *testing.T) {
	t.Parallel()

	arn := "arn:aws:kms:us-east-1:000000000000:key/1234"

	tests := []struct {
		expected, actual string
		want             bool
	}{
		{expected: "", actual: arn, want: true},
		{expected: arn, actual: arn, want: true},
		{expected: "1234", actual: arn, want: true},
		{expected: arn, actual: "1234", want: true},
		{expected: " 1234 ", actual: arn, want: true},
		{expected: "5678", actual: arn, want: false},
		{expected: "arn:aws:kms:eu-west-1:000000000000:key/1234", actual: arn, want: false},
		{expected: "alias/data", actual: "arn:aws:kms:us-east-1:000000000000:alias/data", want: true},
		{expected: "my-minio-key", actual: "arn:aws:kms:my-minio-key", want: true},
		{expected: "arn:aws:kms:us-east-1:123456789012:key/my-minio-key", actual: "arn:aws:kms:my-minio-key", want: true},
		{expected: "arn:aws:kms:my-minio-key", actual: "arn:aws:kms:us-east-1:123456789012:key/my-minio-key", want: true},
		{expected: "arn:aws:kms:us-east-1:123456789012:key/other-key", actual: "arn:aws:kms:my-minio-key", want: false},
	}

	for _, tc := range tests {
		require.Equalf(t, tc.want, sse.KeyIDMatches(tc.expected, tc.actual), "expected %q actual %q", tc.expected, tc.actual)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	arn := "arn:aws:kms:us-east-1:000000000000:key/1234"

	require.NoError(t, sse.Verify(sse.SSES3, "", sse.Observation{Algorithm: sse.SSES3}))
	require.NoError(t, sse.Verify(sse.SSEKMS, "1234", sse.Observation{Algorithm: sse.SSEKMS, KMSKeyID: arn}))
	require.NoError(t, sse.Verify(sse.SSEC, customerKey, sse.Observation{Algorithm: sse.SSEC, CustomerKeyMD5: customerKeyMD5}))
	require.NoError(t, sse.Verify(sse.None, "", sse.Observation{}))
	require.NoError(t, sse.Verify(sse.CSEKMS, "1234", sse.Observation{}), "client-side encryption leaves a plain object")

	err := sse.Verify(sse.SSEKMS, "1234", sse.Observation{})
	var mismatch *sse.MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, sse.SSEKMS, mismatch.Expected)
	require.Equal(t, sse.None, mismatch.Actual)
	require.Contains(t, err.Error(), "expected encryption SSE-KMS, found NONE")

	err = sse.Verify(sse.SSEKMS, "5678", sse.Observation{Algorithm: sse.SSEKMS, KMSKeyID: arn})
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, arn, mismatch.ActualKeyID)

	err = sse.Verify(sse.SSEC, customerKey, sse.Observation{Algorithm: sse.SSEC, CustomerKeyMD5: "AAAAAAAAAAAAAAAAAAAAAA=="})
	require.ErrorAs(t, err, &mismatch)
}

func TestObservationFromHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set(sse.HeaderSSE, "aws:kms")
	h.Set(sse.HeaderKMSKeyID, "arn:aws:kms:us-east-1:000000000000:key/1")
	obs := sse.ObservationFromHeaders(h)
	require.Equal(t, sse.SSEKMS, obs.Algorithm)
	require.Equal(t, "arn:aws:kms:us-east-1:000000000000:key/1", obs.KMSKeyID)

	h = http.Header{}
	h.Set(sse.HeaderCustomerAlgorithm, "AES256")
	h.Set(sse.HeaderCustomerKeyMD5, customerKeyMD5)
	obs = sse.ObservationFromHeaders(h)
	require.Equal(t, sse.SSEC, obs.Algorithm)
	require.Equal(t, customerKeyMD5, obs.CustomerKeyMD5)
}

func TestServerSideOptions(t *testing.T) {
	t.Parallel()

	opt, err := sse.ServerSide(sse.None, "")
	require.NoError(t, err)
	require.Nil(t, opt)

	tests := []struct {
		alg      sse.Algorithm
		key      string
		wantType encrypt.Type
		header   string
		value    string
	}{
		{alg: sse.SSES3, wantType: encrypt.S3, header: sse.HeaderSSE, value: "AES256"},
		{alg: sse.SSEKMS, key: "1234", wantType: encrypt.KMS, header: sse.HeaderKMSKeyID, value: "1234"},
		{alg: sse.DSSEKMS, key: "1234", wantType: encrypt.KMS, header: sse.HeaderSSE, value: "aws:kms:dsse"},
		{alg: sse.SSEC, key: customerKey, wantType: encrypt.SSEC, header: sse.HeaderCustomerKeyMD5, value: customerKeyMD5},
	}

	for _, tc := range tests {
		opt, err := sse.ServerSide(tc.alg, tc.key)
		require.NoErrorf(t, err, "algorithm %s", tc.alg)
		require.Equal(t, tc.wantType, opt.Type())

		h := http.Header{}
		opt.Marshal(h)
		require.Equalf(t, tc.value, h.Get(tc.header), "algorithm %s header %s", tc.alg, tc.header)
	}

	_, err = sse.ServerSide(sse.CSEKMS, "1234")
	require.ErrorIs(t, err, sse.ErrClientSide)

	_, err = sse.ServerSide(sse.SSEC, "")
	require.ErrorIs(t, err, sse.ErrInvalidKey)

	read, err := sse.ReadOption(sse.SSEKMS, "1234")
	require.NoError(t, err)
	require.Nil(t, read, "only SSE-C needs a read option")
}
