package objstore

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ------ Dispatchers for bucket-level HTTP handlers ------

func (s *Server) handleBucketPut(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("encryption"):
		s.writeNotImplemented(w, r, "PutBucketEncryption")
	case q.Has("versioning"):
		s.writeNotImplemented(w, r, "PutBucketVersioning")
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "PutBucketTagging")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "PutBucketPolicy")
	default:
		s.handleCreateBucket(w, r, bucket)
	}
}

func (s *Server) handleBucketPost(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	if r.URL.Query().Has("delete") {
		s.handleDeleteObjects(w, r, bucket)
		return
	}
	s.writeNotImplemented(w, r, "BucketPost")
}

func (s *Server) handleBucketGet(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("location"):
		s.handleGetBucketLocation(w, r, bucket)
	case q.Has("encryption"):
		s.writeNotImplemented(w, r, "GetBucketEncryption")
	case q.Has("versioning"):
		s.writeNotImplemented(w, r, "GetBucketVersioning")
	case q.Has("versions"):
		s.writeNotImplemented(w, r, "ListObjectVersions")
	case q.Has("uploads"):
		s.writeNotImplemented(w, r, "ListMultipartUploads")
	case q.Get("list-type") == "2":
		s.handleListObjectsV2(w, r, bucket)
	default:
		s.writeNotImplemented(w, r, "ListObjects")
	}
}

func (s *Server) handleBucketDelete(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("encryption"):
		s.writeNotImplemented(w, r, "DeleteBucketEncryption")
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "DeleteBucketTagging")
	default:
		s.handleDeleteBucket(w, r, bucket)
	}
}

func (s *Server) handleBucketHead(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !s.requireBucket(w, r, bucket) {
		return
	}

	w.Header().Set("X-Amz-Bucket-Region", s.cfg.Region)
	w.WriteHeader(http.StatusOK)
}

// ------ Bucket API handlers ------

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	created, err := s.ensureBucket(r.Context(), bucket)
	if err != nil {
		slog.Error("Create bucket", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}
	if !created {
		writeS3Error(w, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.", r.URL.Path, http.StatusConflict)
		return
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetBucketLocation(w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(w, r, bucket) {
		return
	}

	resp := LocationConstraint{
		XMLNS:  s3XMLNamespace,
		Region: s.cfg.Region,
	}
	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode bucket location XML", "bucket", bucket, "err", err)
	}
}

// handleDeleteBucket removes an empty bucket and its payload directory.
func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	ctx := r.Context()
	if !s.requireBucket(w, r, bucket) {
		return
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket = ?`, bucket).Scan(&count); err != nil {
		slog.Error("Count bucket objects", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}
	if count > 0 {
		writeS3Error(w, "BucketNotEmpty", "The bucket you tried to delete is not empty.", r.URL.Path, http.StatusConflict)
		return
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, bucket); err != nil {
		slog.Error("Delete bucket metadata", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}

	if err := s.cfg.Engine.DeleteBucket(bucket); err != nil {
		slog.Error("Delete bucket storage", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `SELECT name, created_at FROM buckets ORDER BY name`)
	if err != nil {
		slog.Error("List buckets", "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	buckets := make([]BucketEntry, 0)
	for rows.Next() {
		var (
			name    string
			created time.Time
		)
		if err := rows.Scan(&name, &created); err != nil {
			slog.Error("Scan bucket", "err", err)
			continue
		}
		buckets = append(buckets, BucketEntry{Name: name, CreationDate: created.UTC().Format(time.RFC3339)})
	}

	resp := ListAllMyBucketsResult{
		XMLNS:   s3XMLNamespace,
		Owner:   BucketOwner{ID: "objstore", DisplayName: "objstore"},
		Buckets: buckets,
	}
	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list buckets XML", "err", err)
	}
}

// handleDeleteObjects implements POST /bucket?delete. Missing keys count as
// deleted, as in S3.
func (s *Server) handleDeleteObjects(w http.ResponseWriter, r *http.Request, bucket string) {
	ctx := r.Context()
	if !s.requireBucket(w, r, bucket) {
		return
	}

	defer r.Body.Close()
	var req DeleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Decode delete objects XML", "bucket", bucket, "err", err)
		writeS3Error(w, "MalformedXML", "The XML you provided was not well-formed or did not validate against our published schema.", r.URL.Path, http.StatusBadRequest)
		return
	}
	if len(req.Objects) > 1000 {
		writeS3Error(w, "MalformedXML", "The request must not contain more than 1000 keys.", r.URL.Path, http.StatusBadRequest)
		return
	}

	resp := DeleteResult{XMLNS: s3XMLNamespace}
	for _, obj := range req.Objects {
		if !isValidObjectKey(obj.Key) {
			resp.Errors = append(resp.Errors, DeleteError{Key: obj.Key, Code: "InvalidObjectName", Message: "The specified key is not valid."})
			continue
		}

		if err := s.deleteObject(ctx, bucket, obj.Key); err != nil {
			slog.Error("Delete object in batch", "bucket", bucket, "key", obj.Key, "err", err)
			resp.Errors = append(resp.Errors, DeleteError{Key: obj.Key, Code: "InternalError", Message: internalErrorMessage})
			continue
		}
		if !req.Quiet {
			resp.Deleted = append(resp.Deleted, DeleteObjectKey{Key: obj.Key})
		}
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode delete objects XML", "bucket", bucket, "err", err)
	}
}

// handleListObjectsV2 implements GET /bucket?list-type=2 with prefix,
// delimiter, max-keys, start-after and continuation-token.
func (s *Server) handleListObjectsV2(w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	continuationToken := q.Get("continuation-token")
	startAfter := ""
	if continuationToken == "" {
		startAfter = q.Get("start-after")
	}

	maxKeys := 1000
	if raw := q.Get("max-keys"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v < maxKeys {
			maxKeys = v
		}
	}

	marker := continuationToken
	if marker == "" {
		marker = startAfter
	}

	args := []any{bucket}
	query := `SELECT key, hash, size, modified_at FROM objects WHERE bucket = ?`
	if prefix != "" {
		query += " AND substr(key, 1, length(?)) = ?"
		args = append(args, prefix, prefix)
	}
	if marker != "" {
		query += " AND key > ?"
		args = append(args, marker)
	}
	query += " ORDER BY key"
	if delimiter == "" {
		query += " LIMIT ?"
		args = append(args, maxKeys+1)
	}

	rows, err := s.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		slog.Error("List objects v2", "bucket", bucket, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var (
		summaries      []ObjectSummary
		commonPrefixes []CommonPrefix
		isTruncated    bool
		lastEmitted    string
		lastPrefix     string
	)

	for rows.Next() {
		var (
			key        string
			hashHex    string
			size       int64
			modifiedAt time.Time
		)
		if err := rows.Scan(&key, &hashHex, &size, &modifiedAt); err != nil {
			slog.Error("Scan object (v2)", "bucket", bucket, "err", err)
			continue
		}

		// Keys under a prefix already returned on a previous page.
		if delimiter != "" && len(marker) > len(prefix) && strings.HasSuffix(marker, delimiter) && strings.HasPrefix(key, marker) {
			continue
		}

		entry := ""
		if delimiter != "" {
			if idx := strings.Index(strings.TrimPrefix(key, prefix), delimiter); idx != -1 {
				entry = prefix + strings.TrimPrefix(key, prefix)[:idx+len(delimiter)]
			}
		}
		if entry != "" && entry == lastPrefix {
			continue
		}

		if len(summaries)+len(commonPrefixes) >= maxKeys {
			isTruncated = true
			break
		}

		if entry != "" {
			commonPrefixes = append(commonPrefixes, CommonPrefix{Prefix: entry})
			lastPrefix = entry
			lastEmitted = entry
			continue
		}

		summaries = append(summaries, ObjectSummary{
			Key:          key,
			LastModified: modifiedAt.UTC().Format(time.RFC3339),
			ETag:         createETag(hashHex),
			Size:         size,
			StorageClass: "STANDARD",
		})
		lastEmitted = key
	}

	resp := ListBucketResultV2{
		XMLNS:             s3XMLNamespace,
		Name:              bucket,
		Prefix:            prefix,
		Delimiter:         delimiter,
		KeyCount:          len(summaries) + len(commonPrefixes),
		MaxKeys:           maxKeys,
		IsTruncated:       isTruncated,
		ContinuationToken: continuationToken,
		StartAfter:        startAfter,
		Contents:          summaries,
		CommonPrefixes:    commonPrefixes,
	}
	if isTruncated {
		resp.NextContinuationToken = lastEmitted
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects v2 XML", "bucket", bucket, "err", err)
	}
}
