package objstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ------ Dispatchers for object-level HTTP handlers ------

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("uploads"):
		s.writeNotImplemented(w, r, "CreateMultipartUpload")
	case q.Has("uploadId"):
		s.writeNotImplemented(w, r, "CompleteMultipartUpload")
	default:
		s.writeNotImplemented(w, r, "ObjectPost")
	}
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "GetObjectTagging")
	case q.Has("attributes"):
		s.writeNotImplemented(w, r, "GetObjectAttributes")
	case q.Has("uploadId"):
		s.writeNotImplemented(w, r, "ListParts")
	default:
		s.handleGetObject(w, r, bucket, key)
	}
}

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	rec, ok := s.readableObject(w, r, bucket, key)
	if !ok {
		return
	}

	writeObjectHeaders(w.Header(), rec)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "DeleteObjectTagging")
	case q.Has("uploadId"):
		s.writeNotImplemented(w, r, "AbortMultipartUpload")
	default:
		s.handleDeleteObject(w, r, bucket, key)
	}
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("uploadId") && r.Header.Get("x-amz-copy-source") != "":
		s.writeNotImplemented(w, r, "UploadPartCopy")
	case q.Has("uploadId"):
		s.writeNotImplemented(w, r, "UploadPart")
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "PutObjectTagging")
	case r.Header.Get("x-amz-copy-source") != "":
		s.handleCopyObject(w, r, bucket, key, r.Header.Get("x-amz-copy-source"))
	default:
		s.handlePutObject(w, r, bucket, key)
	}
}

// ------ Object API handlers ------

// readableObject looks up key and checks the request may read it, writing
// the error response and returning false otherwise.
func (s *Server) readableObject(w http.ResponseWriter, r *http.Request, bucket, key string) (objectRecord, bool) {
	rec, err := s.lookupObject(r.Context(), bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
		return rec, false
	}
	if err != nil {
		slog.Error("Lookup object metadata", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return rec, false
	}

	if fault := checkReadAccess(r.Header, objectCustomerHeaders, rec.Encryption); fault != nil {
		fault.write(w, r)
		return rec, false
	}
	return rec, true
}

func writeObjectHeaders(h http.Header, rec objectRecord) {
	h.Set("Content-Type", rec.contentType())
	h.Set("Last-Modified", rec.ModifiedAt.UTC().Format(http.TimeFormat))
	h.Set("ETag", createETag(rec.Hash))
	h.Set("Accept-Ranges", "bytes")
	rec.Encryption.writeHeaders(h)
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	ctx := r.Context()

	enc, fault := s.requestedEncryption(r)
	if fault != nil {
		fault.write(w, r)
		return
	}

	if !s.requireBucket(w, r, bucket) {
		return
	}

	s.payloadMu.Lock()
	defer s.payloadMu.Unlock()

	payload, err := s.storePayload(r, bucket)
	if err != nil {
		slog.Error("Store object payload", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "IncompleteBody", "You did not provide the number of bytes specified by the Content-Length HTTP header.", r.URL.Path, http.StatusBadRequest)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	rec := objectRecord{
		Hash:        payload.Hash,
		Size:        payload.Size,
		ContentType: sql.NullString{String: contentType, Valid: true},
		ModifiedAt:  time.Now().UTC(),
		Encryption:  enc,
	}
	if err := s.upsertObject(ctx, bucket, key, rec); err != nil {
		slog.Error("Upsert object metadata", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}

	slog.Debug("Stored object", "bucket", bucket, "key", key, "size", payload.Size, "sse", enc.Algorithm, "sse_c", enc.customerKeyed())

	w.Header().Set("ETag", createETag(payload.Hash))
	enc.writeHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	rec, ok := s.readableObject(w, r, bucket, key)
	if !ok {
		return
	}

	var data []byte
	if rec.Size > 0 {
		var err error
		data, err = s.cfg.Engine.GetObject(bucket, rec.Hash)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Error("Object payload missing", "bucket", bucket, "key", key, "hash", rec.Hash)
			} else {
				slog.Error("Read object payload", "bucket", bucket, "key", key, "err", err)
			}
			writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
			return
		}
	}

	if int64(len(data)) != rec.Size {
		slog.Error("Object size mismatch", "bucket", bucket, "key", key, "expected", rec.Size, "actual", len(data))
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}

	writeObjectHeaders(w.Header(), rec)

	status := http.StatusOK
	if header := r.Header.Get("Range"); header != "" {
		rng, ok, err := parseRange(header, rec.Size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rec.Size))
			writeS3Error(w, "InvalidRange", "The requested range is not satisfiable", r.URL.Path, http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, rec.Size))
			data = data[rng.Start : rng.End+1]
			status = http.StatusPartialContent
		}
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Error("Stream object", "bucket", bucket, "key", key, "err", err)
	}
}

// handleDeleteObject is idempotent: deleting a missing key succeeds.
func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if err := s.deleteObject(r.Context(), bucket, key); err != nil {
		slog.Error("Delete object", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseCopySource splits x-amz-copy-source ("/bucket/key" or
// "bucket/key", URL-encoded, optionally with ?versionId=) into its parts.
func parseCopySource(copySource string) (string, string, error) {
	src, _, _ := strings.Cut(copySource, "?")
	src = strings.TrimPrefix(src, "/")

	decoded, err := url.PathUnescape(src)
	if err != nil {
		return "", "", err
	}

	bucket, key, found := strings.Cut(decoded, "/")
	if !found || bucket == "" || key == "" {
		return "", "", errors.New("copy source must be bucket/key")
	}
	return bucket, key, nil
}

// handleCopyObject copies a single object. Like S3, the new object only
// carries the encryption named by this request's own headers; the source's
// encryption is never inherited.
func (s *Server) handleCopyObject(w http.ResponseWriter, r *http.Request, destBucket string, destKey string, copySource string) {
	ctx := r.Context()

	srcBucket, srcKey, err := parseCopySource(copySource)
	if err != nil {
		writeS3Error(w, "InvalidArgument", "Copy Source must mention the source bucket and key: sourcebucket/sourcekey", r.URL.Path, http.StatusBadRequest)
		return
	}

	enc, fault := s.requestedEncryption(r)
	if fault != nil {
		fault.write(w, r)
		return
	}

	src, err := s.lookupObject(ctx, srcBucket, srcKey)
	if errors.Is(err, sql.ErrNoRows) {
		writeS3Error(w, "NoSuchKey", "The specified key does not exist.", "/"+srcBucket+"/"+srcKey, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Lookup source object for copy", "srcBucket", srcBucket, "srcKey", srcKey, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}

	if fault := checkReadAccess(r.Header, copyCustomerHeaders, src.Encryption); fault != nil {
		fault.write(w, r)
		return
	}

	replace := strings.EqualFold(r.Header.Get("x-amz-metadata-directive"), "REPLACE")
	if srcBucket == destBucket && srcKey == destKey && !replace && enc == (objectEncryption{}) {
		writeS3Error(w, "InvalidRequest", "This copy request is illegal because it is trying to copy an object to itself without changing the object's metadata, storage class, website redirect location or encryption attributes.", r.URL.Path, http.StatusBadRequest)
		return
	}

	if !s.requireBucket(w, r, destBucket) {
		return
	}

	s.payloadMu.Lock()
	defer s.payloadMu.Unlock()

	if srcBucket != destBucket {
		if err := s.cfg.Engine.CopyObject(srcBucket, src.Hash, destBucket); err != nil {
			slog.Error("Copy payload between buckets", "srcBucket", srcBucket, "destBucket", destBucket, "err", err)
			writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
			return
		}
	}

	rec := objectRecord{
		Hash:        src.Hash,
		Size:        src.Size,
		ContentType: src.ContentType,
		ModifiedAt:  time.Now().UTC(),
		Encryption:  enc,
	}
	if replace {
		rec.ContentType = sql.NullString{String: r.Header.Get("Content-Type"), Valid: r.Header.Get("Content-Type") != ""}
	}

	if err := s.upsertObject(ctx, destBucket, destKey, rec); err != nil {
		slog.Error("Upsert dest object metadata for copy", "destBucket", destBucket, "destKey", destKey, "err", err)
		writeS3Error(w, "InternalError", internalErrorMessage, r.URL.Path, http.StatusInternalServerError)
		return
	}

	if src.Encryption != enc {
		slog.Debug("Copy changed encryption", "src", srcBucket+"/"+srcKey, "dest", destBucket+"/"+destKey,
			"from", src.Encryption.Algorithm, "to", enc.Algorithm)
	}

	enc.writeHeaders(w.Header())
	resp := CopyObjectResult{
		XMLNS:        s3XMLNamespace,
		LastModified: rec.ModifiedAt.Format(time.RFC3339),
		ETag:         createETag(src.Hash),
	}
	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode copy object XML", "destBucket", destBucket, "destKey", destKey, "err", err)
	}
}
