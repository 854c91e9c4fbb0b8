// Package snapshot writes and reads compressed world snapshots. A snapshot
// is JSON compressed with lz4 and addressed by the blake3 digest of its
// uncompressed body.
package snapshot

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"github.com/talgya/territory/internal/engine"
)

// Encode serialises a snapshot and returns the compressed bytes and the
// hex digest of the JSON body.
func Encode(s engine.WorldSnapshot) ([]byte, string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), Digest(body), nil
}

// Decode reverses Encode and verifies the digest when one is given.
func Decode(data []byte, digest string) (engine.WorldSnapshot, error) {
	var s engine.WorldSnapshot
	body, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return s, fmt.Errorf("decompress snapshot: %w", err)
	}
	if digest != "" && Digest(body) != digest {
		return s, fmt.Errorf("snapshot digest mismatch: want %s, got %s", digest, Digest(body))
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return s, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}

// Digest returns the hex blake3-256 sum of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Info describes a snapshot written to disk.
type Info struct {
	Path    string `json:"path"`
	Digest  string `json:"digest"`
	Version uint64 `json:"version"`
	Bytes   int    `json:"bytes"`
}

// WriteFile stores a snapshot in dir as <digest>.json.lz4. Identical
// states map to the same file.
func WriteFile(dir string, s engine.WorldSnapshot) (Info, error) {
	data, digest, err := Encode(s)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("snapshot dir: %w", err)
	}
	path := filepath.Join(dir, digest+".json.lz4")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Info{}, fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Info{}, fmt.Errorf("write snapshot: %w", err)
	}
	return Info{Path: path, Digest: digest, Version: s.Version, Bytes: len(data)}, nil
}

// ReadFile loads a snapshot written by WriteFile, checking its digest
// against the file name.
func ReadFile(path string) (engine.WorldSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.WorldSnapshot{}, err
	}
	base := filepath.Base(path)
	digest := base[:len(base)-len(filepath.Ext(base))]
	digest = digest[:len(digest)-len(filepath.Ext(digest))]
	return Decode(data, digest)
}
