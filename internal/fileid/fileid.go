// Package fileid provides platform-stable file identities for rename
// tracking and BLAKE3 content fingerprints for change detection.
package fileid

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"

	"github.com/neuralfs/neuralfs/internal/models"
)

// Identity returns the platform-stable identity of the file at path:
// device+inode on Unix-like systems, volume+file-index on Windows. The
// identity survives renames within a volume.
func Identity(path string) (models.FileIdentity, error) {
	return identity(path)
}

// Fingerprint returns the lowercase hex BLAKE3-256 hash of the file
// content at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes hashes in-memory content (used by tests and the deep
// reconcile path when the file is already read).
func FingerprintBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
