package objstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// storedPayload describes a request body once it has been handed to the
// storage engine.
type storedPayload struct {
	Hash string
	Size int64
}

// isStreamingPayload reports whether the body uses the aws-chunked framing
// minio-go and the AWS SDKs send over plain HTTP.
func isStreamingPayload(h http.Header) bool {
	switch strings.ToUpper(h.Get("X-Amz-Content-Sha256")) {
	case "STREAMING-AWS4-HMAC-SHA256-PAYLOAD",
		"STREAMING-AWS4-HMAC-SHA256-PAYLOAD-TRAILER",
		"STREAMING-UNSIGNED-PAYLOAD-TRAILER":
		return true
	}
	return false
}

// storePayload reads the request body, decoding aws-chunked framing when
// present, and stores it under its SHA-256 in bucket.
func (s *Server) storePayload(r *http.Request, bucket string) (storedPayload, error) {
	defer r.Body.Close()

	if !isStreamingPayload(r.Header) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return storedPayload{}, fmt.Errorf("read request body: %w", err)
		}

		sum := sha256.Sum256(data)
		p := storedPayload{Hash: hex.EncodeToString(sum[:]), Size: int64(len(data))}
		if err := s.cfg.Engine.PutObject(bucket, p.Hash, data); err != nil {
			return storedPayload{}, fmt.Errorf("store payload: %w", err)
		}
		return p, nil
	}

	decodedLen := int64(-1)
	if raw := r.Header.Get("X-Amz-Decoded-Content-Length"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return storedPayload{}, fmt.Errorf("invalid X-Amz-Decoded-Content-Length %q", raw)
		}
		decodedLen = n
	}

	tmpDir := filepath.Join(s.cfg.DataDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return storedPayload{}, fmt.Errorf("create temp dir: %w", err)
	}

	tmpPath := filepath.Join(tmpDir, "upload-"+uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return storedPayload{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		// The engine may already have moved the file into place.
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Debug("Failed to remove temp upload file", "path", tmpPath, "err", err)
		}
	}()

	size, hash, err := decodeStreamingPayload(f, r.Body, decodedLen)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return storedPayload{}, err
	}

	if err := s.cfg.Engine.PutObjectFromFile(bucket, hash, tmpPath, size); err != nil {
		return storedPayload{}, fmt.Errorf("store payload from file: %w", err)
	}
	return storedPayload{Hash: hash, Size: size}, nil
}

// decodeStreamingPayload copies the chunk bodies of an aws-chunked stream
// to dst and returns the decoded length and its SHA-256. Chunk signatures
// and trailers are not verified.
func decodeStreamingPayload(dst io.Writer, body io.Reader, decodedLen int64) (int64, string, error) {
	br := bufio.NewReader(body)
	h := sha256.New()
	out := io.MultiWriter(dst, h)

	var written int64
	for {
		// <size-hex>[;chunk-signature=...]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, "", errors.New("unexpected EOF while reading chunk header")
			}
			return 0, "", fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		sizeHex := strings.TrimSpace(line)
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return 0, "", fmt.Errorf("parse chunk size %q: %w", sizeHex, err)
		}

		if size == 0 {
			break
		}

		n, err := io.CopyN(out, br, size)
		written += n
		if err != nil {
			return 0, "", fmt.Errorf("read chunk body: %w", err)
		}

		crlf := make([]byte, 2)
		if _, err := io.ReadFull(br, crlf); err != nil {
			return 0, "", fmt.Errorf("read chunk terminator: %w", err)
		}
		if crlf[0] != '\r' || crlf[1] != '\n' {
			return 0, "", fmt.Errorf("expected CRLF after chunk, got %q", crlf)
		}
	}

	if decodedLen >= 0 && written != decodedLen {
		return 0, "", fmt.Errorf("decoded %d bytes, header announced %d", written, decodedLen)
	}

	return written, hex.EncodeToString(h.Sum(nil)), nil
}
