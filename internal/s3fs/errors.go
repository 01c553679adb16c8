package s3fs

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/minio/minio-go/v7"
)

// ErrDirectoryNotEmpty is returned by a non-recursive Delete of a
// directory with children.
var ErrDirectoryNotEmpty = errors.New("directory not empty")

// translate converts minio error responses to fs errors. Anything else
// keeps its cause.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return err
	}

	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return fmt.Errorf("minio: %w", err)
	}

	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fs.ErrNotExist
	case "AccessDenied":
		return fs.ErrPermission
	}
	return fmt.Errorf("minio: %w", err)
}

func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return err
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}
