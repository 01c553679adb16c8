package s3fs

import (
	"io/fs"
	"time"
)

// FileInfo describes an object or a directory prefix.
type FileInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

var _ fs.FileInfo = (*FileInfo)(nil)

func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return fi.size }
func (fi *FileInfo) ModTime() time.Time { return fi.modTime }
func (fi *FileInfo) IsDir() bool        { return fi.dir }
func (fi *FileInfo) Sys() any           { return nil }

func (fi *FileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
