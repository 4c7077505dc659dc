// Package fileid derives the source IDs recorded on ingested profiles. A source ID names
// the document a profile came from, so re-ingesting or removing that document can replace
// or delete exactly its profiles.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	filePrefix   = "file:"
	drivePrefix  = "drive:"
	uploadPrefix = "upload:"
)

// ForPath returns a stable source ID for a local file. Callers pass absolute paths;
// the path is cleaned first so equivalent spellings share an ID.
func ForPath(path string) string {
	return filePrefix + digest(filepath.Clean(path))
}

// ForDrive returns the source ID for a cloud drive file ID.
func ForDrive(fileID string) string {
	return drivePrefix + fileID
}

// ForUpload returns a source ID for uploaded bytes, derived from the file name and content.
func ForUpload(name string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(content)
	return uploadPrefix + hex.EncodeToString(h.Sum(nil))
}

// Kind returns "file", "drive" or "upload" for IDs built by this package, else "".
func Kind(id string) string {
	for _, p := range []string{filePrefix, drivePrefix, uploadPrefix} {
		if strings.HasPrefix(id, p) {
			return strings.TrimSuffix(p, ":")
		}
	}
	return ""
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
