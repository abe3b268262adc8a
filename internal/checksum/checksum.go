// Package checksum hashes streamed content and verifies it against
// checksums reported by the remote store.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/Ning0612/drivewatch/internal/domain"
)

// Algorithm represents the hashing algorithm to use
type Algorithm string

const (
	// MD5 is what Drive reports as md5Checksum for binary content
	MD5 Algorithm = "md5"
	// SHA256 is used for local-only bookkeeping
	SHA256 Algorithm = "sha256"
)

// bufferSize is the streaming read chunk
const bufferSize = 32 * 1024

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	switch algo {
	case MD5, SHA256:
		return true
	default:
		return false
	}
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algo)
	}
}

// Calculate streams reader through the hasher and returns the hex digest
func Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	buffer := make([]byte, bufferSize)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := reader.Read(buffer)
		if n > 0 {
			h.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verifier hashes everything read through it. After the stream has been
// consumed Verify compares the digest with the expected value.
type Verifier struct {
	r        io.Reader
	h        hash.Hash
	expected string
	n        int64
}

// NewVerifier wraps r. An empty expected checksum makes Verify a no-op.
func NewVerifier(r io.Reader, algo Algorithm, expected string) (*Verifier, error) {
	h, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		r:        io.TeeReader(r, h),
		h:        h,
		expected: strings.ToLower(expected),
	}, nil
}

// Read implements io.Reader
func (v *Verifier) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	v.n += int64(n)
	return n, err
}

// Sum returns the hex digest of the bytes read so far
func (v *Verifier) Sum() string {
	return hex.EncodeToString(v.h.Sum(nil))
}

// BytesRead returns the number of bytes read so far
func (v *Verifier) BytesRead() int64 {
	return v.n
}

// Verify returns domain.ErrChecksumMismatch if the digest differs from the
// expected checksum
func (v *Verifier) Verify() error {
	if v.expected == "" {
		return nil
	}
	if got := v.Sum(); got != v.expected {
		return fmt.Errorf("%w: got %s, want %s", domain.ErrChecksumMismatch, got, v.expected)
	}
	return nil
}
