// Package blobstore stages artifacts in blob storage and mints read-only
// access URLs for them.
package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/artpar/fnpublish/internal/core/domain"
)

// Store is where run-from-package artifacts are staged.
type Store interface {
	// Upload writes body to container/name, creating the container if needed,
	// and returns the content MD5 the service computed for the stored blob.
	// md5 is the locally computed hash. The service verifies the received
	// bytes against it and a mismatch is a *domain.IntegrityError.
	Upload(ctx context.Context, container, name string, body io.ReadSeeker, contentType string, md5 []byte) ([]byte, error)

	// ReadURL returns a URL granting read access to container/name between
	// start and expiry.
	ReadURL(ctx context.Context, container, name string, start, expiry time.Time) (string, error)
}

// Opener opens a store from a storage connection string.
type Opener func(connectionString string) (Store, error)

// =============================================================================
// Memory Store
// =============================================================================

// MemoryBlob is one blob held by a MemoryStore.
type MemoryBlob struct {
	Container   string
	Name        string
	Data        []byte
	ContentType string
	MD5         []byte
}

// MemoryStore keeps blobs in memory. It is used by tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	blobs   map[string]MemoryBlob
	uploads int

	// Corrupt makes the reported MD5 differ from the stored content.
	Corrupt bool

	// FailUploads makes the next n uploads fail.
	FailUploads int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string]MemoryBlob{}}
}

// Upload implements Store.
func (m *MemoryStore) Upload(ctx context.Context, container, name string, body io.ReadSeeker, contentType string, want []byte) ([]byte, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploads++
	if m.FailUploads > 0 {
		m.FailUploads--
		return nil, fmt.Errorf("upload %s/%s: storage unavailable", container, name)
	}

	sum := md5.Sum(data)
	if len(want) > 0 && !bytes.Equal(want, sum[:]) {
		return nil, &domain.IntegrityError{Blob: name, LocalMD5: want}
	}
	reported := sum[:]
	if m.Corrupt {
		reported = append([]byte(nil), reported...)
		reported[0] ^= 0xff
	}

	m.blobs[container+"/"+name] = MemoryBlob{
		Container:   container,
		Name:        name,
		Data:        data,
		ContentType: contentType,
		MD5:         reported,
	}
	return reported, nil
}

// ReadURL implements Store.
func (m *MemoryStore) ReadURL(ctx context.Context, container, name string, start, expiry time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[container+"/"+name]; !ok {
		return "", fmt.Errorf("blob %s/%s not found", container, name)
	}
	return fmt.Sprintf("https://memory.blob/%s/%s?sp=r&st=%s&se=%s",
		container, name, start.UTC().Format(time.RFC3339), expiry.UTC().Format(time.RFC3339)), nil
}

// Uploads returns the number of upload attempts.
func (m *MemoryStore) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Blobs returns the stored blobs.
func (m *MemoryStore) Blobs() []MemoryBlob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryBlob, 0, len(m.blobs))
	for _, b := range m.blobs {
		out = append(out, b)
	}
	return out
}
