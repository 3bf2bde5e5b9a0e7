// Package cache maps content fingerprints to previously produced video
// artifacts so identical requests reuse results across jobs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/avatarlabs/avatar-studio/pkg/file"
)

// versionTag namespaces the hash so a format change never collides with keys
// produced by older processes.
const versionTag = "avatar-video:v1"

// Cache is an advisory, append-only artifact store: no invalidation, no TTL,
// no size bound. Keys are hex digests; values are files named <digest>.mp4
// in a flat directory.
type Cache struct {
	dir string
}

func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Fingerprint computes the deterministic digest over backend identity, the
// backend-relevant configuration subset, both input files and the request
// options. File contents are streamed, never loaded whole. The job id is
// deliberately absent: identical inputs hash identically across jobs.
func (c *Cache) Fingerprint(backend string, backendConfig map[string]any, imagePath, audioPath string, options map[string]any) (string, error) {
	h := sha256.New()
	h.Write([]byte(versionTag + "\x00"))
	h.Write([]byte("backend\x00"))
	h.Write([]byte(backend))

	h.Write([]byte("\x00backend-config\x00"))
	if err := hashCanonicalJSON(h, backendConfig); err != nil {
		return "", fmt.Errorf("hash backend config: %w", err)
	}

	h.Write([]byte("image\x00"))
	if err := hashFile(h, imagePath); err != nil {
		return "", fmt.Errorf("hash image: %w", err)
	}

	h.Write([]byte("\x00audio\x00"))
	if err := hashFile(h, audioPath); err != nil {
		return "", fmt.Errorf("hash audio: %w", err)
	}

	h.Write([]byte("\x00options\x00"))
	if err := hashCanonicalJSON(h, options); err != nil {
		return "", fmt.Errorf("hash options: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Lookup returns the cached artifact path for digest, if one exists.
func (c *Cache) Lookup(digest string) (string, bool) {
	path := filepath.Join(c.dir, digest+".mp4")
	if file.Exists(path) {
		return path, true
	}
	return "", false
}

// Store copies a successful output into the cache directory, creating the
// cache area on demand, and returns the stored path. The artifact is always
// named <digest>.mp4 regardless of the source name so Lookup can find it.
func (c *Cache) Store(digest, srcPath string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	dst := filepath.Join(c.dir, digest+".mp4")
	if err := file.Copy(srcPath, dst); err != nil {
		return "", fmt.Errorf("store cache artifact: %w", err)
	}
	return dst, nil
}

// hashCanonicalJSON feeds the order-independent JSON form of v into h.
// encoding/json sorts map keys, so two equal maps always serialize the same.
func hashCanonicalJSON(h hash.Hash, v map[string]any) error {
	if v == nil {
		v = map[string]any{}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = h.Write(payload)
	return err
}

func hashFile(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(h, f)
	return err
}
