package objstore

// StorageEngine persists object payloads addressed by the SHA-256 of their
// content. Keys, sizes and encryption attributes live in the metadata
// database; an engine only ever sees hashes.
type StorageEngine interface {
	// PutObject stores data under hashHex within bucket.
	PutObject(bucket string, hashHex string, data []byte) error

	// PutObjectFromFile stores the payload already written to tempPath. The
	// engine may move the file into place.
	PutObjectFromFile(bucket string, hashHex string, tempPath string, size int64) error

	// GetObject returns the payload stored under hashHex within bucket.
	GetObject(bucket string, hashHex string) ([]byte, error)

	// CopyObject makes the payload for hashHex available in destBucket.
	CopyObject(srcBucket, hashHex, destBucket string) error

	// DeleteObject drops the payload for hashHex from bucket. Callers only
	// do so once no key in the bucket references it.
	DeleteObject(bucket string, hashHex string) error

	// DeleteBucket removes every payload stored for bucket.
	DeleteBucket(bucket string) error
}
