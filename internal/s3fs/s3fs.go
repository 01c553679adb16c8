// Package s3fs is a filesystem view of one bucket on an S3-compatible store.
// Every object it writes or copies carries the configured server-side
// encryption.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"s3verify/internal/config"
	"s3verify/internal/sse"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"golang.org/x/sync/errgroup"
)

// FileSystem implements the storage adapter over minio-go.
type FileSystem struct {
	client *minio.Client
	bucket string

	// write is applied to PUT and COPY destinations, read to GET, HEAD and
	// COPY sources. read is only non-nil for SSE-C.
	write encrypt.ServerSide
	read  encrypt.ServerSide

	algorithm            sse.Algorithm
	renameConcurrency    int
	dropEncryptionOnCopy bool
}

// New creates an adapter for cfg.Bucket.
func New(cfg Config) (*FileSystem, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	write, err := sse.ServerSide(cfg.Encryption, cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption %s: %w", cfg.Encryption, err)
	}
	read, err := sse.ReadOption(cfg.Encryption, cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption %s: %w", cfg.Encryption, err)
	}

	client := cfg.Client
	if client == nil {
		host, secure, err := cfg.hostAndSecurity()
		if err != nil {
			return nil, err
		}

		client, err = minio.New(host, &minio.Options{
			Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure:       secure,
			Transport:    cfg.Transport,
			Region:       cfg.Region,
			BucketLookup: minio.BucketLookupPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}

	concurrency := cfg.MaxRenameConcurrency
	if concurrency == 0 {
		concurrency = 10
	}

	return &FileSystem{
		client:               client,
		bucket:               cfg.Bucket,
		write:                write,
		read:                 read,
		algorithm:            cfg.Encryption,
		renameConcurrency:    concurrency,
		dropEncryptionOnCopy: cfg.DropEncryptionOnCopy,
	}, nil
}

// Open validates conf as seen by the bucket named in test.fs.s3a.name and
// creates an adapter from it. customize may adjust the derived Config, for
// instance to set a Transport.
func Open(conf *config.Configuration, customize ...func(*Config)) (*FileSystem, error) {
	settings, err := conf.ForBucket(conf.TestBucket()).Settings()
	if err != nil {
		return nil, err
	}

	cfg := ConfigFromSettings(settings)
	for _, fn := range customize {
		fn(&cfg)
	}
	return New(cfg)
}

// Client returns the underlying minio-go client.
func (f *FileSystem) Client() *minio.Client {
	return f.client
}

// Bucket returns the bucket the adapter works on.
func (f *FileSystem) Bucket() string {
	return f.bucket
}

// Algorithm returns the encryption applied to writes.
func (f *FileSystem) Algorithm() sse.Algorithm {
	return f.algorithm
}

// Key maps a filesystem path onto its object key.
func (f *FileSystem) Key(name string) string {
	name = path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimPrefix(name, "/")
}

func dirKey(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// WriteFile creates or replaces name with data.
func (f *FileSystem) WriteFile(ctx context.Context, name string, data []byte) error {
	key := f.Key(name)
	if key == "" {
		return pathError("writefile", name, fs.ErrInvalid)
	}

	_, err := f.client.PutObject(ctx, f.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:          "application/octet-stream",
		ServerSideEncryption: f.write,
	})
	if err != nil {
		return pathError("writefile", name, translate(err))
	}
	return nil
}

// ReadFile returns the contents of name.
func (f *FileSystem) ReadFile(ctx context.Context, name string) ([]byte, error) {
	key := f.Key(name)

	info, err := f.client.StatObject(ctx, f.bucket, key, minio.StatObjectOptions{ServerSideEncryption: f.read})
	if err != nil {
		return nil, pathError("readfile", name, translate(err))
	}

	obj, err := f.client.GetObject(ctx, f.bucket, key, minio.GetObjectOptions{ServerSideEncryption: f.read})
	if err != nil {
		return nil, pathError("readfile", name, translate(err))
	}
	defer obj.Close()

	data := make([]byte, info.Size)
	if _, err := io.ReadFull(obj, data); err != nil {
		return nil, pathError("readfile", name, translate(err))
	}
	return data, nil
}

// ReadRange returns up to length bytes of name starting at offset.
func (f *FileSystem) ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, pathError("readrange", name, fs.ErrInvalid)
	}
	if length == 0 {
		return []byte{}, nil
	}

	opts := minio.GetObjectOptions{ServerSideEncryption: f.read}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, pathError("readrange", name, err)
	}

	obj, err := f.client.GetObject(ctx, f.bucket, f.Key(name), opts)
	if err != nil {
		return nil, pathError("readrange", name, translate(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, pathError("readrange", name, translate(err))
	}
	return data, nil
}

// Stat describes name. A path with no object of its own is a directory
// when it has a marker or any object below it.
func (f *FileSystem) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	key := f.Key(name)
	base := path.Base("/" + key)

	if key != "" {
		info, err := f.client.StatObject(ctx, f.bucket, key, minio.StatObjectOptions{ServerSideEncryption: f.read})
		if err == nil {
			return &FileInfo{name: base, size: info.Size, modTime: info.LastModified}, nil
		}
		if err := translate(err); !errors.Is(err, fs.ErrNotExist) {
			return nil, pathError("stat", name, err)
		}
	}

	isDir, err := f.hasChildren(ctx, dirKey(key), true)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	if !isDir {
		return nil, pathError("stat", name, fs.ErrNotExist)
	}
	return &FileInfo{name: base, dir: true}, nil
}

// IsDirectory reports whether name is a directory.
func (f *FileSystem) IsDirectory(ctx context.Context, name string) (bool, error) {
	info, err := f.Stat(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// hasChildren reports whether any object lives under prefix. The marker
// object for prefix itself counts only when includeMarker is set.
func (f *FileSystem) hasChildren(ctx context.Context, prefix string, includeMarker bool) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range f.client.ListObjects(ctx, f.bucket, minio.ListObjectsOptions{Prefix: prefix, MaxKeys: 2}) {
		if obj.Err != nil {
			return false, translate(obj.Err)
		}
		if obj.Key == prefix && !includeMarker {
			continue
		}
		return true, nil
	}
	return false, nil
}

// Mkdirs creates a directory marker for name. Creating an existing
// directory succeeds; a file in the way does not.
func (f *FileSystem) Mkdirs(ctx context.Context, name string) error {
	key := f.Key(name)
	if key == "" {
		return nil
	}

	for dir := key; dir != "." && dir != ""; dir = path.Dir(dir) {
		info, err := f.Stat(ctx, dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return pathError("mkdirs", name, err)
		}
		if !info.IsDir() {
			return pathError("mkdirs", name, fs.ErrExist)
		}
	}

	_, err := f.client.PutObject(ctx, f.bucket, dirKey(key), bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType:          "application/x-directory",
		ServerSideEncryption: f.write,
	})
	if err != nil {
		return pathError("mkdirs", name, translate(err))
	}
	return nil
}

// Rename moves src to dst by copy and delete. Renaming into an existing
// directory places src beneath it. Not atomic: a failure part way leaves
// objects at both paths.
func (f *FileSystem) Rename(ctx context.Context, src, dst string) error {
	srcKey := f.Key(src)
	dstKey := f.Key(dst)
	if srcKey == "" || dstKey == "" {
		return pathError("rename", src, fs.ErrInvalid)
	}

	srcInfo, err := f.Stat(ctx, src)
	if err != nil {
		return err
	}

	if dstInfo, err := f.Stat(ctx, dst); err == nil {
		if !dstInfo.IsDir() {
			return pathError("rename", dst, fs.ErrExist)
		}
		dstKey = path.Join(dstKey, path.Base(srcKey))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if srcKey == dstKey {
		return nil
	}
	if srcInfo.IsDir() && strings.HasPrefix(dstKey+"/", dirKey(srcKey)) {
		return pathError("rename", src, fmt.Errorf("cannot move a directory into itself: %s", dst))
	}

	if !srcInfo.IsDir() {
		if err := f.copyObject(ctx, srcKey, dstKey); err != nil {
			return pathError("rename", src, translate(err))
		}
		if err := f.client.RemoveObject(ctx, f.bucket, srcKey, minio.RemoveObjectOptions{}); err != nil {
			return pathError("rename", src, translate(err))
		}
		return nil
	}

	copied, err := f.parallelCopy(ctx, dirKey(srcKey), dirKey(dstKey))
	if err != nil {
		return pathError("rename", src, translate(err))
	}
	if err := f.removeKeys(ctx, copied); err != nil {
		return pathError("rename", src, translate(err))
	}
	return nil
}

func (f *FileSystem) copyObject(ctx context.Context, srcKey, dstKey string) error {
	srcOpts := minio.CopySrcOptions{Bucket: f.bucket, Object: srcKey}
	if f.read != nil {
		srcOpts.Encryption = f.read
	}

	dstOpts := minio.CopyDestOptions{Bucket: f.bucket, Object: dstKey}
	if !f.dropEncryptionOnCopy {
		dstOpts.Encryption = f.write
	}

	if _, err := f.client.CopyObject(ctx, dstOpts, srcOpts); err != nil {
		return fmt.Errorf("copy object %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// parallelCopy copies every object under oldPrefix to newPrefix and
// returns the source keys copied.
func (f *FileSystem) parallelCopy(ctx context.Context, oldPrefix, newPrefix string) ([]string, error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(f.renameConcurrency)

	var copiedMu sync.Mutex
	var copied []string

	for obj := range f.client.ListObjects(egCtx, f.bucket, minio.ListObjectsOptions{Prefix: oldPrefix, Recursive: true}) {
		if obj.Err != nil {
			_ = eg.Wait()
			return copied, obj.Err
		}

		srcKey := obj.Key
		eg.Go(func() error {
			dstKey := newPrefix + strings.TrimPrefix(srcKey, oldPrefix)
			if err := f.copyObject(egCtx, srcKey, dstKey); err != nil {
				return err
			}

			copiedMu.Lock()
			copied = append(copied, srcKey)
			copiedMu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return copied, fmt.Errorf("parallel copy failed: %w", err)
	}
	return copied, nil
}

func (f *FileSystem) removeKeys(ctx context.Context, keys []string) error {
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	for rerr := range f.client.RemoveObjects(ctx, f.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return rerr.Err
		}
	}
	return nil
}

// Delete removes name and reports whether anything was there. A missing
// path is not an error. Deleting a non-empty directory requires recursive.
func (f *FileSystem) Delete(ctx context.Context, name string, recursive bool) (bool, error) {
	key := f.Key(name)
	if key == "" {
		return false, pathError("delete", name, fs.ErrInvalid)
	}

	info, err := f.Stat(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !info.IsDir() {
		if err := f.client.RemoveObject(ctx, f.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return false, pathError("delete", name, translate(err))
		}
		return true, nil
	}

	prefix := dirKey(key)
	if !recursive {
		nonEmpty, err := f.hasChildren(ctx, prefix, false)
		if err != nil {
			return false, pathError("delete", name, err)
		}
		if nonEmpty {
			return false, pathError("delete", name, ErrDirectoryNotEmpty)
		}
	}

	var keys []string
	for obj := range f.client.ListObjects(ctx, f.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return false, pathError("delete", name, translate(obj.Err))
		}
		keys = append(keys, obj.Key)
	}
	if err := f.removeKeys(ctx, keys); err != nil {
		return false, pathError("delete", name, translate(err))
	}
	return true, nil
}
