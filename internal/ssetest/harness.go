// Package ssetest checks that server-side encryption configured on the
// storage adapter is applied to every object it stores, whatever the
// object size and across renames. The encryption is read back from the
// stored object by an EncryptionOracle, not inferred from client
// configuration.
package ssetest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"

	"s3verify/internal/config"
	"s3verify/internal/sse"

	"github.com/google/uuid"
)

// FileSystem is the storage adapter under test.
type FileSystem interface {
	WriteFile(ctx context.Context, name string, data []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error)
	Stat(ctx context.Context, name string) (fs.FileInfo, error)
	Mkdirs(ctx context.Context, name string) error
	Rename(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, name string, recursive bool) (bool, error)
	IsDirectory(ctx context.Context, name string) (bool, error)
}

// EncryptionOracle inspects the encryption a store reports for a live
// object. A mismatch is returned as a *sse.MismatchError together with
// what was observed.
type EncryptionOracle interface {
	AssertEncrypted(ctx context.Context, name string, alg sse.Algorithm, keyID string) (sse.Observation, error)
}

// RenameDataSize is the size of the object moved by the rename check.
const RenameDataSize = 1024

// DefaultSizes probes the rounding of sizes around small word and block
// boundaries.
var DefaultSizes = []int{0, 1, 2, 3, 4, 5, 254, 255, 256, 257, config.DefaultBoundarySize}

// Sizes returns DefaultSizes with the final boundary replaced. A boundary
// equal to one of the fixed sizes is already covered and is not repeated,
// so every size maps to its own file.
func Sizes(boundary int) []int {
	sizes := append([]int(nil), DefaultSizes...)
	fixed := sizes[:len(sizes)-1]
	if slices.Contains(fixed, boundary) {
		return fixed
	}
	sizes[len(sizes)-1] = boundary
	return sizes
}

// Dataset returns size bytes cycling through 'a'..'z'.
func Dataset(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return data
}

// PatchConfigurationEncryptionSettings clears the base and per-bucket
// encryption algorithm and key options for the test bucket, then selects
// alg. Applying it again changes nothing.
func PatchConfigurationEncryptionSettings(conf *config.Configuration, alg sse.Algorithm) {
	conf.RemoveBaseAndBucketOverrides(conf.TestBucket(), config.KeyEncryptionAlgorithm, config.KeyEncryptionKey)
	conf.Set(config.KeyEncryptionAlgorithm, alg.Method())
}

// CreateConfiguration derives the configuration of one encryption test
// from base, which is left untouched.
func CreateConfiguration(base *config.Configuration, alg sse.Algorithm) *config.Configuration {
	conf := base.Clone()
	conf.SetBool(config.KeyDisableCache, true)
	PatchConfigurationEncryptionSettings(conf, alg)
	return conf
}

// Harness runs the encryption checks of one test.
type Harness struct {
	Conf      *config.Configuration
	Algorithm sse.Algorithm
	FS        FileSystem
	Oracle    EncryptionOracle

	// Method is the base of every file name, normally the test name.
	Method string

	// Dir holds every file the harness creates.
	Dir string

	// Data produces the payload of a given size. Defaults to Dataset.
	Data func(size int) []byte
}

// NewHarness returns a harness working in a fresh directory.
func NewHarness(conf *config.Configuration, alg sse.Algorithm, fsys FileSystem, oracle EncryptionOracle, method string) *Harness {
	return &Harness{
		Conf:      conf,
		Algorithm: alg,
		FS:        fsys,
		Oracle:    oracle,
		Method:    method,
		Dir:       path.Join("ssetest", uuid.NewString()),
		Data:      Dataset,
	}
}

// Filename names the file for a size case.
func (h *Harness) Filename(size int) string {
	return fmt.Sprintf("%s-%04x", h.Method, size)
}

// FilenameFor names a file after an arbitrary label.
func (h *Harness) FilenameFor(name string) string {
	return h.Method + "-" + name
}

// Path places name in the harness directory.
func (h *Harness) Path(name string) string {
	return path.Join(h.Dir, name)
}

func (h *Harness) data(size int) []byte {
	if h.Data == nil {
		return Dataset(size)
	}
	return h.Data(size)
}

// Sizes returns the size cases, with the boundary taken from the
// configuration.
func (h *Harness) Sizes() ([]int, error) {
	boundary, err := h.Conf.GetInt(config.KeyBoundarySize, config.DefaultBoundarySize)
	if err != nil {
		return nil, err
	}
	if boundary < 0 {
		return nil, &config.ValidationError{Key: config.KeyBoundarySize, Value: fmt.Sprint(boundary), Reason: "must not be negative"}
	}
	return Sizes(boundary), nil
}

// SkipIfEncryptionTestsDisabled returns ErrEncryptionTestsDisabled when
// the configuration turns encryption tests off.
func (h *Harness) SkipIfEncryptionTestsDisabled() error {
	enabled, err := h.Conf.GetBool(config.KeyEncryptionTestsEnabled, true)
	if err != nil {
		return err
	}
	if !enabled {
		slog.Info("Skipping encryption test", "reason", "disabled by configuration", "key", config.KeyEncryptionTestsEnabled)
		return ErrEncryptionTestsDisabled
	}
	return nil
}

// Cleanup removes the harness directory.
func (h *Harness) Cleanup(ctx context.Context) error {
	_, err := h.FS.Delete(ctx, h.Dir, true)
	return err
}
