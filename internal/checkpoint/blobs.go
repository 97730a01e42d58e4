// internal/checkpoint/blobs.go
package checkpoint

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// BlobPool is a content-addressable store for file bodies shared across
// checkpoints. Bodies are zstd-compressed and reference counted; a body
// is evicted when its last reference is released.
type BlobPool struct {
	mu      sync.Mutex
	blobs   map[string]*blob
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type blob struct {
	data []byte
	size int
	refs int
}

// PoolStats reports pool usage
type PoolStats struct {
	Blobs          int `json:"blobs"`
	RawBytes       int `json:"raw_bytes"`
	CompressedSize int `json:"compressed_bytes"`
}

// NewBlobPool creates a pool compressing at the given zstd level
func NewBlobPool(compressionLevel int) (*BlobPool, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &BlobPool{
		blobs:   make(map[string]*blob),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Put stores content (if new) and takes a reference to it
func (p *BlobPool) Put(content string) string {
	hash := CalculateHash(content)

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.blobs[hash]; ok {
		b.refs++
		return hash
	}

	p.blobs[hash] = &blob{
		data: p.encoder.EncodeAll([]byte(content), nil),
		size: len(content),
		refs: 1,
	}
	return hash
}

// Get returns the content stored under hash
func (p *BlobPool) Get(hash string) (string, error) {
	p.mu.Lock()
	b, ok := p.blobs[hash]
	p.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("missing blob %s: %w", hash, ErrNotFound)
	}

	raw, err := p.decoder.DecodeAll(b.data, nil)
	if err != nil {
		return "", fmt.Errorf("decompress blob %s: %w", hash, err)
	}
	return string(raw), nil
}

// Release drops one reference to hash
func (p *BlobPool) Release(hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.blobs[hash]
	if !ok {
		return
	}
	b.refs--
	if b.refs <= 0 {
		delete(p.blobs, hash)
	}
}

// Refs returns the reference count of hash
func (p *BlobPool) Refs(hash string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.blobs[hash]; ok {
		return b.refs
	}
	return 0
}

// Stats returns usage numbers
func (p *BlobPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{Blobs: len(p.blobs)}
	for _, b := range p.blobs {
		stats.RawBytes += b.size
		stats.CompressedSize += len(b.data)
	}
	return stats
}

// Close releases the codec resources
func (p *BlobPool) Close() {
	p.encoder.Close()
	p.decoder.Close()
}

// CalculateHash calculates the SHA256 hash of content
func CalculateHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h)
}
