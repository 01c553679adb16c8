// Package objstore is a small S3-compatible endpoint that honours
// server-side encryption headers. It stores payloads unencrypted on local
// disk and records the requested encryption per object, which is all a
// client-visible encryption check can observe.
package objstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS

	bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)
)

const internalErrorMessage = "We encountered an internal error. Please try again."

// Server serves the S3 API subset the encryption harness relies on.
type Server struct {
	cfg Config
	db  *sql.DB

	// payloadMu orders payload writes against the reference check that
	// drops unreferenced payloads on delete.
	payloadMu sync.Mutex
}

// initSchema applies every embedded migration not yet recorded in
// schema_migrations, in lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	return fs.WalkDir(migrationsFS, "migrations", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		version := path.Base(name)

		var applied int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if applied > 0 {
			return nil
		}

		content, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		slog.Info("Running migration", "path", name)
		return WithTransaction(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("apply migration %s: %w", version, err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(?)`, version)
			return err
		})
	})
}

// NewServer opens (or creates) the metadata database under the data
// directory and returns a Server ready to serve.
func NewServer(ctx context.Context, opts ...Option) (*Server, error) {
	cfg := newConfig(opts...)

	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(cfg.DataDir, "metadata.sqlite") + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Server{cfg: cfg, db: db}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.db.Close()
}

// WithTransaction runs fn inside a transaction, committing when it returns
// nil.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func (s *Server) bucketExists(ctx context.Context, bucket string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, bucket).Scan(&count); err != nil {
		return false, err
	}

	return count > 0, nil
}

// ensureBucket creates bucket if needed and reports whether it did.
func (s *Server) ensureBucket(ctx context.Context, name string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets(name, created_at, modified_at) VALUES(?, ?, ?)`,
		name, now, now,
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	return rows > 0, err
}

// requireBucket writes NoSuchBucket (or InternalError) and returns false
// when bucket is missing.
func (s *Server) requireBucket(w http.ResponseWriter, r *http.Request, bucket string) bool {
	exists, err := s.bucketExists(r.Context(), bucket)
	if err != nil {
		slog.Error("Check bucket exists", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return false
	}
	if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return false
	}
	return true
}

// objectRecord is one row of the objects table.
type objectRecord struct {
	Hash        string
	Size        int64
	ContentType sql.NullString
	ModifiedAt  time.Time
	Encryption  objectEncryption
}

func (o objectRecord) contentType() string {
	if o.ContentType.Valid && o.ContentType.String != "" {
		return o.ContentType.String
	}
	return "application/octet-stream"
}

// lookupObject returns sql.ErrNoRows when the key does not exist.
func (s *Server) lookupObject(ctx context.Context, bucket, key string) (objectRecord, error) {
	var rec objectRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, size, content_type, modified_at,
		        sse_algorithm, sse_kms_key_id, sse_customer_algorithm, sse_customer_key_md5
		   FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&rec.Hash, &rec.Size, &rec.ContentType, &rec.ModifiedAt,
		&rec.Encryption.Algorithm, &rec.Encryption.KMSKeyID, &rec.Encryption.CustomerAlgorithm, &rec.Encryption.CustomerKeyMD5)
	return rec, err
}

// upsertObject records key as pointing at rec, replacing any previous
// version including its encryption attributes.
func (s *Server) upsertObject(ctx context.Context, bucket, key string, rec objectRecord) error {
	now := rec.ModifiedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var ct any
	if rec.ContentType.Valid {
		ct = rec.ContentType.String
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects(bucket, key, parent, hash, size, content_type, created_at, modified_at,
		                     sse_algorithm, sse_kms_key_id, sse_customer_algorithm, sse_customer_key_md5)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET
		 	parent=excluded.parent,
		 	hash=excluded.hash,
		 	size=excluded.size,
		 	content_type=excluded.content_type,
		 	modified_at=excluded.modified_at,
		 	sse_algorithm=excluded.sse_algorithm,
		 	sse_kms_key_id=excluded.sse_kms_key_id,
		 	sse_customer_algorithm=excluded.sse_customer_algorithm,
		 	sse_customer_key_md5=excluded.sse_customer_key_md5`,
		bucket, key, parentPrefixForKey(key), rec.Hash, rec.Size, ct, now, now,
		rec.Encryption.Algorithm, rec.Encryption.KMSKeyID, rec.Encryption.CustomerAlgorithm, rec.Encryption.CustomerKeyMD5,
	)
	return err
}

// deleteObject removes key and drops its payload once nothing else in the
// bucket references it. Deleting a missing key is not an error.
func (s *Server) deleteObject(ctx context.Context, bucket, key string) error {
	s.payloadMu.Lock()
	defer s.payloadMu.Unlock()

	rec, err := s.lookupObject(ctx, bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return err
	}

	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket = ? AND hash = ?`, bucket, rec.Hash).Scan(&refs); err != nil {
		return err
	}
	if refs == 0 {
		if err := s.cfg.Engine.DeleteObject(bucket, rec.Hash); err != nil {
			slog.Warn("Drop unreferenced payload", "bucket", bucket, "hash", rec.Hash, "err", err)
		}
	}
	return nil
}

func (s *Server) writeNotImplemented(w http.ResponseWriter, r *http.Request, op string) {
	writeS3Error(w, "NotImplemented", op+" is not implemented.", r.URL.Path, http.StatusNotImplemented)
}

// writeS3Error writes an S3-style XML error response.
func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:      code,
		Message:   message,
		Resource:  resource,
		RequestID: w.Header().Get(headerRequestID),
	})
}

func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// parentPrefixForKey returns the immediate parent prefix of key:
//
//	"a/b/c.txt" -> "a/b/"
//	"file.txt"  -> ""
//	"dir/"      -> ""
func parentPrefixForKey(key string) string {
	trimmed := strings.TrimRight(key, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 {
		return ""
	}
	return key[:idx+1]
}

// isValidBucketName applies the S3 naming rules for virtual-hosted buckets.
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if !bucketNamePattern.MatchString(name) {
		return false
	}
	if strings.Contains(name, "..") || strings.Contains(name, ".-") || strings.Contains(name, "-.") {
		return false
	}
	return net.ParseIP(name) == nil
}

// isValidObjectKey requires 1 to 1024 bytes without control characters.
func isValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}

func validateBucketNameOrError(w http.ResponseWriter, r *http.Request, bucket string) bool {
	if !isValidBucketName(bucket) {
		writeS3Error(w, "InvalidBucketName", "The specified bucket is not valid.", r.URL.Path, http.StatusBadRequest)
		return false
	}
	return true
}

func validateObjectKeyOrError(w http.ResponseWriter, r *http.Request, key string) bool {
	if !isValidObjectKey(key) {
		writeS3Error(w, "InvalidObjectName", "The specified key is not valid.", r.URL.Path, http.StatusBadRequest)
		return false
	}
	return true
}
