package ssetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"s3verify/internal/config"
	"s3verify/internal/sse"
)

// Opener creates the adapter and oracle of one test from its derived
// configuration. Returned resources are released through t.Cleanup.
type Opener func(t testing.TB, conf *config.Configuration) (FileSystem, EncryptionOracle)

// Variant is one algorithm run against one backend.
type Variant struct {
	Name      string
	Algorithm sse.Algorithm
	Base      *config.Configuration
	Open      Opener

	// Key is set as the encryption key after the base options are
	// cleared. SSE-C needs one; KMS uses it as the key id.
	Key string

	// Parallel runs the size cases in parallel.
	Parallel bool

	// Data replaces Dataset when set.
	Data func(size int) []byte
}

// NewTestHarness derives the configuration for v, opens the backend and
// registers removal of the harness directory.
func NewTestHarness(t testing.TB, v Variant) *Harness {
	t.Helper()

	base := v.Base
	if base == nil {
		base = config.New()
	}
	conf := CreateConfiguration(base, v.Algorithm)
	if v.Key != "" {
		conf.Set(config.KeyEncryptionKey, v.Key)
	}
	fsys, oracle := v.Open(t, conf)

	h := NewHarness(conf, v.Algorithm, fsys, oracle, methodName(t.Name()))
	if v.Data != nil {
		h.Data = v.Data
	}

	t.Cleanup(func() {
		if err := h.Cleanup(context.Background()); err != nil {
			t.Logf("removing %s: %v", h.Dir, err)
		}
	})
	return h
}

// TestEncryption runs ValidateEncryptionForFileSize once per size case,
// each in its own subtest.
func TestEncryption(t *testing.T, v Variant) {
	t.Helper()

	h := NewTestHarness(t, v)
	if err := h.SkipIfEncryptionTestsDisabled(); err != nil {
		report(t, err)
	}

	sizes, err := h.Sizes()
	if err != nil {
		t.Fatal(err)
	}

	for _, size := range sizes {
		t.Run(strings.TrimPrefix(h.Filename(size), h.Method+"-"), func(t *testing.T) {
			if v.Parallel {
				t.Parallel()
			}
			report(t, h.ValidateEncryptionForFileSize(t.Context(), size))
		})
	}
}

// TestEncryptionOverRename runs ValidateEncryptionOverRename.
func TestEncryptionOverRename(t *testing.T, v Variant) {
	t.Helper()

	h := NewTestHarness(t, v)
	report(t, h.ValidateEncryptionOverRename(t.Context()))
}

// Suite runs every encryption check for v.
func Suite(t *testing.T, v Variant) {
	t.Run("sizes", func(t *testing.T) {
		TestEncryption(t, v)
	})
	t.Run("rename", func(t *testing.T) {
		TestEncryptionOverRename(t, v)
	})
}

func report(t testing.TB, err error) {
	t.Helper()

	switch {
	case err == nil:
	case errors.Is(err, ErrEncryptionTestsDisabled):
		t.Skip(err)
	default:
		t.Fatal(err)
	}
}

// methodName turns a test name into a path segment.
func methodName(name string) string {
	return strings.NewReplacer("/", "-", " ", "_", "#", "").Replace(name)
}
