package ssetest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"s3verify/internal/config"
	"s3verify/internal/sse"
)

// ValidateEncryptionForFileSize writes size bytes, checks that they read
// back unchanged and are stored with the configured encryption, then
// deletes the file.
func (h *Harness) ValidateEncryptionForFileSize(ctx context.Context, size int) error {
	if err := h.SkipIfEncryptionTestsDisabled(); err != nil {
		return err
	}

	name := h.Path(h.Filename(size))
	data := h.data(size)

	if err := h.FS.WriteFile(ctx, name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := h.verifyContent(ctx, name, data); err != nil {
		return err
	}
	if err := h.AssertEncrypted(ctx, name); err != nil {
		return err
	}

	if _, err := h.FS.Delete(ctx, name, false); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// ValidateEncryptionOverRename checks that a file keeps the configured
// encryption after being renamed into a freshly created directory.
func (h *Harness) ValidateEncryptionOverRename(ctx context.Context) error {
	if err := h.SkipIfEncryptionTestsDisabled(); err != nil {
		return err
	}

	src := h.Path(h.Filename(RenameDataSize))
	data := h.data(RenameDataSize)

	if err := h.FS.WriteFile(ctx, src, data); err != nil {
		return fmt.Errorf("write %s: %w", src, err)
	}
	if err := h.verifyContent(ctx, src, data); err != nil {
		return err
	}
	if err := h.AssertEncrypted(ctx, src); err != nil {
		return err
	}

	target := h.Path("target")
	if err := h.FS.Mkdirs(ctx, target); err != nil {
		return fmt.Errorf("mkdirs %s: %w", target, err)
	}
	if err := h.FS.Rename(ctx, src, target); err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, target, err)
	}

	renamed := path.Join(target, path.Base(src))
	slog.Debug("Verifying renamed file", "source", src, "destination", renamed)
	if err := h.verifyContent(ctx, renamed, data); err != nil {
		return err
	}
	return h.AssertEncrypted(ctx, renamed)
}

// AssertEncrypted checks the stored encryption of name against the
// algorithm under test and the key configured for the test bucket.
func (h *Harness) AssertEncrypted(ctx context.Context, name string) error {
	key := h.Conf.ForBucket(h.Conf.TestBucket()).GetTrimmed(config.KeyEncryptionKey)

	obs, err := h.Oracle.AssertEncrypted(ctx, name, h.Algorithm, key)
	if err == nil {
		return nil
	}

	var mismatch *sse.MismatchError
	if errors.As(err, &mismatch) {
		return &VerificationError{
			Path:          name,
			Expected:      mismatch.Expected,
			Actual:        obs.Algorithm,
			ExpectedKeyID: mismatch.ExpectedKeyID,
			ActualKeyID:   mismatch.ActualKeyID,
			Err:           err,
		}
	}
	return fmt.Errorf("inspect encryption of %s: %w", name, err)
}

// verifyContent checks the reported length first so a truncated object is
// caught without reading it.
func (h *Harness) verifyContent(ctx context.Context, name string, want []byte) error {
	info, err := h.FS.Stat(ctx, name)
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if info.Size() != int64(len(want)) {
		return &ContentError{Path: name, WantSize: int64(len(want)), GotSize: info.Size(), Offset: -1}
	}

	got, err := h.FS.ReadFile(ctx, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(got) != len(want) {
		return &ContentError{Path: name, WantSize: int64(len(want)), GotSize: int64(len(got)), Offset: -1}
	}
	if i := firstDifference(got, want); i >= 0 {
		return &ContentError{Path: name, WantSize: int64(len(want)), GotSize: int64(len(got)), Offset: int64(i)}
	}

	// Ranged reads decrypt from an offset inside the object.
	if len(want) < 2 {
		return nil
	}
	off := int64(len(want) / 2)
	tail, err := h.FS.ReadRange(ctx, name, off, int64(len(want))-off)
	if err != nil {
		return fmt.Errorf("read %s from %d: %w", name, off, err)
	}
	if i := firstDifference(tail, want[off:]); i >= 0 {
		return &ContentError{Path: name, WantSize: int64(len(want)), GotSize: off + int64(len(tail)), Offset: off + int64(i)}
	}
	return nil
}

// firstDifference returns the first index where got and want differ, or -1.
func firstDifference(got, want []byte) int {
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			return i
		}
	}
	if len(got) > len(want) {
		return len(want)
	}
	return -1
}
