package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// Store is the narrow contract the sync core needs from asset storage.
// Durability and replication are the backend's problem.
type Store interface {
	Upload(ctx context.Context, name string, r io.Reader) error
	Exists(ctx context.Context, name string) (bool, error)
}

var ErrRejected = errors.New("asset rejected by store")

// HashedName returns the immutable content-addressed filename for a file:
// sha256 of the content plus the original extension, e.g. "ab12...f9.glb".
// Identical files always map to the same asset url.
func HashedName(origName string, data []byte) string {
	sum := sha256.Sum256(data)
	ext := strings.ToLower(filepath.Ext(origName))
	return hex.EncodeToString(sum[:]) + ext
}

// URL returns the canonical asset url for a stored filename.
func URL(name string) string { return "asset://" + name }
