// Package storage tests for hashing helpers.
package storage

import (
	"bytes"
	"io"
	"testing"
)

// =====================================================
// CalculateHash Tests
// =====================================================

// TestCalculateHash verifies SHA-256 hash calculation.
func TestCalculateHash(t *testing.T) {
	data := []byte("test data for hashing")

	hash := CalculateHash(data)

	// SHA-256 hash should be 64 hex characters
	if len(hash) != 64 {
		t.Errorf("Hash length = %d, want 64", len(hash))
	}

	// Should be hexadecimal
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("Hash contains non-hex character: %c", c)
		}
	}
}

// TestCalculateHash_consistency verifies same data produces same hash.
func TestCalculateHash_consistency(t *testing.T) {
	data := []byte("consistent data")

	hash1 := CalculateHash(data)
	hash2 := CalculateHash(data)

	if hash1 != hash2 {
		t.Errorf("Inconsistent hashes: %q != %q", hash1, hash2)
	}
}

// TestCalculateHash_uniqueness verifies different data produces different hashes.
func TestCalculateHash_uniqueness(t *testing.T) {
	data1 := []byte("data one")
	data2 := []byte("data two")

	hash1 := CalculateHash(data1)
	hash2 := CalculateHash(data2)

	if hash1 == hash2 {
		t.Error("Different data should produce different hashes")
	}
}

// TestCalculateHash_empty verifies empty data hash.
func TestCalculateHash_empty(t *testing.T) {
	data := []byte{}

	hash := CalculateHash(data)

	// Known SHA-256 hash of empty string
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if hash != expected {
		t.Errorf("Empty hash = %q, want %q", hash, expected)
	}
}

// =====================================================
// StreamingHash Tests
// =====================================================

// TestNewStreamingHash verifies StreamingHash initialization.
func TestNewStreamingHash(t *testing.T) {
	var buf bytes.Buffer

	sh := NewStreamingHash(&buf)

	if sh == nil {
		t.Fatal("NewStreamingHash() returned nil")
	}

	if sh.hash == nil {
		t.Error("sh.hash should be initialized")
	}

	if sh.writer == nil {
		t.Error("sh.writer should be initialized")
	}
}

// TestStreamingHash_Write verifies write and hash calculation.
func TestStreamingHash_Write(t *testing.T) {
	var buf bytes.Buffer

	sh := NewStreamingHash(&buf)
	data := []byte("test data for streaming hash")

	n, err := sh.Write(data)

	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if n != len(data) {
		t.Errorf("Write() returned %d bytes, want %d", n, len(data))
	}

	// Verify data was written to underlying writer
	if buf.String() != string(data) {
		t.Error("Data was not written to underlying writer")
	}

	// Verify hash
	expectedHash := CalculateHash(data)
	if sh.Hash() != expectedHash {
		t.Errorf("Hash() = %q, want %q", sh.Hash(), expectedHash)
	}
}

// TestStreamingHash_Write_multiple verifies multiple writes.
func TestStreamingHash_Write_multiple(t *testing.T) {
	var buf bytes.Buffer

	sh := NewStreamingHash(&buf)

	sh.Write([]byte("first "))
	sh.Write([]byte("second "))
	sh.Write([]byte("third"))

	// Verify combined data
	expectedData := "first second third"
	if buf.String() != expectedData {
		t.Errorf("Buffer content = %q, want %q", buf.String(), expectedData)
	}

	// Verify hash of combined data
	expectedHash := CalculateHash([]byte(expectedData))
	if sh.Hash() != expectedHash {
		t.Errorf("Hash() = %q, want %q", sh.Hash(), expectedHash)
	}
}

// TestStreamingHash_Hash verifies hash retrieval.
func TestStreamingHash_Hash(t *testing.T) {
	var buf bytes.Buffer

	sh := NewStreamingHash(&buf)

	// Hash before write should be empty hash (SHA-256 of empty)
	emptyHash := sh.Hash()
	if emptyHash != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("Empty hash = %q, want SHA-256 of empty string", emptyHash)
	}

	// Hash after write
	data := []byte("test data")
	sh.Write(data)
	hash := sh.Hash()

	if len(hash) != 64 {
		t.Errorf("Hash length = %d, want 64", len(hash))
	}

	expectedHash := CalculateHash(data)
	if hash != expectedHash {
		t.Errorf("Hash() = %q, want %q", hash, expectedHash)
	}
}

// =====================================================
// MultiHashReader Tests
// =====================================================

// TestNewMultiHashReader verifies MultiHashReader initialization.
func TestNewMultiHashReader(t *testing.T) {
	data := []byte("test data")
	reader := bytes.NewReader(data)

	mh := NewMultiHashReader(reader)

	if mh == nil {
		t.Fatal("NewMultiHashReader() returned nil")
	}

	if mh.hash == nil {
		t.Error("mh.hash should be initialized")
	}

	if mh.reader == nil {
		t.Error("mh.reader should be initialized")
	}
}

// TestMultiHashReader_Read verifies read and hash calculation.
func TestMultiHashReader_Read(t *testing.T) {
	data := []byte("test data for multi hash reader")
	reader := bytes.NewReader(data)

	mh := NewMultiHashReader(reader)
	buf := make([]byte, 1024)

	n, err := mh.Read(buf)

	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if n != len(data) {
		t.Errorf("Read() returned %d bytes, want %d", n, len(data))
	}

	// Verify data read
	readData := buf[:n]
	if !bytes.Equal(readData, data) {
		t.Error("Read data doesn't match original")
	}

	// Verify hash
	expectedHash := CalculateHash(data)
	if mh.Hash() != expectedHash {
		t.Errorf("Hash() = %q, want %q", mh.Hash(), expectedHash)
	}
}

// TestMultiHashReader_Read_multiple verifies multiple reads.
func TestMultiHashReader_Read_multiple(t *testing.T) {
	data := []byte("first second third") // 18 bytes total
	reader := bytes.NewReader(data)

	mh := NewMultiHashReader(reader)
	buf := make([]byte, 10)

	// First read: 10 bytes
	n1, _ := mh.Read(buf)
	if n1 != 10 {
		t.Errorf("First read returned %d bytes, want 10", n1)
	}

	// Second read: 8 bytes remaining
	n2, _ := mh.Read(buf)
	if n2 != 8 {
		t.Errorf("Second read returned %d bytes, want 8", n2)
	}

	// Third read (EOF)
	n3, err := mh.Read(buf)
	if n3 != 0 {
		t.Errorf("Third read returned %d bytes, want 0", n3)
	}
	if err != io.EOF {
		t.Errorf("Third read error = %v, want EOF", err)
	}

	// Verify hash of complete data
	expectedHash := CalculateHash(data)
	if mh.Hash() != expectedHash {
		t.Errorf("Hash() = %q, want %q", mh.Hash(), expectedHash)
	}
}

// TestMultiHashReader_Hash verifies hash retrieval.
func TestMultiHashReader_Hash(t *testing.T) {
	data := []byte("test data")
	reader := bytes.NewReader(data)

	mh := NewMultiHashReader(reader)

	// Hash before read should be empty hash
	emptyHash := mh.Hash()
	if emptyHash != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("Empty hash = %q", emptyHash)
	}

	// Read all data
	buf := make([]byte, 1024)
	mh.Read(buf)

	// Hash after read
	hash := mh.Hash()
	if len(hash) != 64 {
		t.Errorf("Hash length = %d, want 64", len(hash))
	}

	expectedHash := CalculateHash(data)
	if hash != expectedHash {
		t.Errorf("Hash() = %q, want %q", hash, expectedHash)
	}
}
