package objstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// LocalFileStorage keeps payloads under dataDir/<bucket>/<hash[:2]>/<hash>.
// Identical payloads in different buckets share an inode through hard
// links whenever the filesystem allows it.
type LocalFileStorage struct {
	dataDir string
}

func NewLocalFileStorage(dataDir string) *LocalFileStorage {
	return &LocalFileStorage{dataDir: dataDir}
}

func (s *LocalFileStorage) objectPath(bucket, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return filepath.Join(s.dataDir, bucket, hashHex[:2], hashHex), nil
}

// linkExisting hard links objPath to a payload with the same hash and size
// stored for any other bucket. It reports whether a link was made.
func (s *LocalFileStorage) linkExisting(objPath, hashHex string, size int64) bool {
	matches, _ := filepath.Glob(filepath.Join(s.dataDir, "*", hashHex[:2], hashHex))
	for _, existing := range matches {
		if existing == objPath {
			continue
		}

		info, err := os.Stat(existing)
		if err != nil || !info.Mode().IsRegular() || info.Size() != size {
			continue
		}
		if err := os.Link(existing, objPath); err == nil {
			return true
		}
	}
	return false
}

func (s *LocalFileStorage) PutObject(bucket string, hashHex string, data []byte) error {
	objPath, err := s.objectPath(bucket, hashHex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(objPath); err == nil {
		return nil
	}
	if s.linkExisting(objPath, hashHex, int64(len(data))) {
		return nil
	}
	return os.WriteFile(objPath, data, 0o644)
}

func (s *LocalFileStorage) PutObjectFromFile(bucket string, hashHex string, tempPath string, size int64) error {
	objPath, err := s.objectPath(bucket, hashHex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(objPath); err == nil {
		return nil
	}
	if s.linkExisting(objPath, hashHex, size) {
		return nil
	}
	return moveFile(tempPath, objPath)
}

func (s *LocalFileStorage) CopyObject(srcBucket, hashHex, destBucket string) error {
	srcPath, err := s.objectPath(srcBucket, hashHex)
	if err != nil {
		return err
	}
	destPath, err := s.objectPath(destBucket, hashHex)
	if err != nil {
		return err
	}
	if srcPath == destPath {
		return nil
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source is not a regular file: %s", srcPath)
	}

	if _, err := os.Stat(destPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return linkOrCopyFile(srcPath, destPath)
}

func (s *LocalFileStorage) GetObject(bucket string, hashHex string) ([]byte, error) {
	objPath, err := s.objectPath(bucket, hashHex)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(objPath)
}

func (s *LocalFileStorage) DeleteObject(bucket string, hashHex string) error {
	objPath, err := s.objectPath(bucket, hashHex)
	if err != nil {
		return err
	}
	if err := os.Remove(objPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalFileStorage) DeleteBucket(bucket string) error {
	return os.RemoveAll(filepath.Join(s.dataDir, bucket))
}

func linkOrCopyFile(srcPath, destPath string) error {
	if err := os.Link(srcPath, destPath); err == nil {
		return nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		return err
	}
	return dest.Close()
}

// moveFile renames srcPath into place, copying across filesystems.
func moveFile(srcPath, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := linkOrCopyFile(srcPath, destPath); err != nil {
		return err
	}
	if err := os.Remove(srcPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
