// Package storage provides on-disk storage for binary payloads: the photo
// blobs of offline submissions and the pre-fetched image cache.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no blob is stored under a key.
	ErrNotFound = errors.New("blob not found")
	// ErrCorrupt is returned when a blob no longer matches its checksum.
	ErrCorrupt = errors.New("blob checksum mismatch")
)

const sumSuffix = ".sha256"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// BlobStore stores binary payloads under caller-chosen keys, each with a
// SHA-256 sidecar that is verified on every read.
//
// Layout: baseDir/{key} and baseDir/{key}.sha256
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a new BlobStore.
func NewBlobStore(baseDir string) *BlobStore {
	return &BlobStore{
		baseDir: baseDir,
	}
}

// CalculateHash calculates SHA-256 hash of data.
func CalculateHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Put stores data under key, replacing any previous blob, and returns its
// hash. The blob is written to a temp file and renamed into place.
func (s *BlobStore) Put(key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, ".tmp-"+key+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := NewStreamingHash(tmp)
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	sum := w.Hash()
	if err := os.WriteFile(s.sumPath(key), []byte(sum), 0644); err != nil {
		return "", fmt.Errorf("failed to write checksum: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return sum, nil
}

// Get returns the blob stored under key. It fails with ErrNotFound when
// either file is missing and ErrCorrupt when the content does not match the
// sidecar checksum.
func (s *BlobStore) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	want, err := os.ReadFile(s.sumPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read checksum: %w", err)
	}

	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	r := NewMultiHashReader(f)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	if got := r.Hash(); got != strings.TrimSpace(string(want)) {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, key)
	}
	return data, nil
}

// Delete removes the blob under key. Deleting a missing blob is not an error.
func (s *BlobStore) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	for _, p := range []string{s.path(key), s.sumPath(key)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete blob: %w", err)
		}
	}
	return nil
}

// Exists checks if a blob is stored under key.
func (s *BlobStore) Exists(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Size returns the size of the blob under key in bytes.
func (s *BlobStore) Size(key string) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

// List returns every stored key in lexical order.
func (s *BlobStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	keys := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, sumSuffix) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}

// VerifyAll re-reads every blob and returns the keys that fail verification.
func (s *BlobStore) VerifyAll() ([]string, error) {
	keys, err := s.List()
	if err != nil {
		return nil, err
	}

	var corrupted []string
	for _, key := range keys {
		if _, err := s.Get(key); err != nil {
			corrupted = append(corrupted, key)
		}
	}
	return corrupted, nil
}

func (s *BlobStore) path(key string) string {
	return filepath.Join(s.baseDir, key)
}

func (s *BlobStore) sumPath(key string) string {
	return filepath.Join(s.baseDir, key+sumSuffix)
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}

// StreamingHash wraps a writer and calculates hash as data is written.
type StreamingHash struct {
	hash   hash.Hash
	writer io.Writer
}

// NewStreamingHash creates a new StreamingHash.
func NewStreamingHash(writer io.Writer) *StreamingHash {
	return &StreamingHash{
		hash:   sha256.New(),
		writer: writer,
	}
}

// Write writes data and updates hash.
func (s *StreamingHash) Write(p []byte) (int, error) {
	s.hash.Write(p)
	return s.writer.Write(p)
}

// Hash returns the calculated hash.
func (s *StreamingHash) Hash() string {
	return hex.EncodeToString(s.hash.Sum(nil))
}

// MultiHashReader wraps a reader and calculates hash as data is read.
type MultiHashReader struct {
	reader io.Reader
	hash   hash.Hash
}

// NewMultiHashReader creates a new MultiHashReader.
func NewMultiHashReader(reader io.Reader) *MultiHashReader {
	return &MultiHashReader{
		reader: reader,
		hash:   sha256.New(),
	}
}

// Read reads data and updates hash.
func (m *MultiHashReader) Read(p []byte) (int, error) {
	n, err := m.reader.Read(p)
	if n > 0 {
		m.hash.Write(p[:n])
	}
	return n, err
}

// Hash returns the calculated hash.
func (m *MultiHashReader) Hash() string {
	return hex.EncodeToString(m.hash.Sum(nil))
}
