// Package sha256 names archived pages by the SHA-256 digest of their body.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// Hasher implements tracker.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ArchivePath builds "<prefix>/<channelID>/<digest>.html", dropping an empty prefix.
func ArchivePath(prefix, channelID, digest string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(channelID, digest+".html")
	}
	return path.Join(prefix, channelID, digest+".html")
}
