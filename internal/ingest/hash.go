package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// hashPrefixLen is how many hex characters of the content fingerprint are
// woven in to the stored file name to guarantee two same-named uploads
// can never collide on disk.
const hashPrefixLen = 12

var (
	errPayloadTooLarge = errors.New("payload exceeds the maximum allowed size")
	errPayloadEmpty    = errors.New("payload is empty")

	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// spoolAndHash streams the reader to a temporary file inside tempDir
// while computing its sha256 fingerprint in the same pass, enforcing the
// size limit as it goes. On success the caller owns (and must eventually
// remove) the returned temp file; on any failure nothing is left behind.
func spoolAndHash(reader io.Reader, maxBytes int64, tempDir string) (hash string, size int64, tempPath string, err error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	tempFile, err := os.CreateTemp(tempDir, "upload-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath = tempFile.Name()

	keepFile := false
	defer func() {
		tempFile.Close()
		if !keepFile {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to spool upload payload: %w", err)
	}
	if written > maxBytes {
		return "", 0, "", errPayloadTooLarge
	}
	if written == 0 {
		return "", 0, "", errPayloadEmpty
	}

	keepFile = true
	return hex.EncodeToString(hasher.Sum(nil)), written, tempPath, nil
}

// storageSafeName derives the on-disk file name for an upload: the
// sanitized original base name joined with a fingerprint prefix. The
// fingerprint component means byte-different files named identically by
// their uploaders still land at distinct paths.
func storageSafeName(originalName string, contentHash string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "." {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))

	base = unsafeNameChars.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-.")
	if base == "" {
		base = "upload"
	}

	return fmt.Sprintf("%s-%s%s", base, contentHash[:hashPrefixLen], ext)
}
