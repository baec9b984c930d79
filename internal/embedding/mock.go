package embedding

import (
	"context"

	"lukechampine.com/blake3"
)

// MockEmbedder produces deterministic unit vectors derived from token
// hashes. Texts sharing tokens land near each other, which is enough
// structure for ranking and clustering tests without a model file.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder creates a mock embedder with the given output size.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// EmbedText implements Embedder.
func (m *MockEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, m.dimensions)
	for _, tok := range SplitTokens(text) {
		sum := blake3.Sum256([]byte(tok))
		for i := 0; i < m.dimensions; i++ {
			// cycle the digest as a stream of signed byte weights
			b := sum[(i+int(sum[i%32]))%32]
			out[i] += float32(int8(b)) / 128
		}
	}
	if allZero(out) {
		// empty input still yields a valid unit vector
		out[0] = 1
	}
	normalizeL2(out)
	return out, nil
}

// EmbedBatch implements Embedder.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// EmbedImage implements Embedder, hashing the raw bytes.
func (m *MockEmbedder) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	sum := blake3.Sum256(data)
	out := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		out[i] = float32(int8(sum[i%32])) / 128
	}
	out[0] += 1
	normalizeL2(out)
	return out, nil
}

// Dimensions implements Embedder.
func (m *MockEmbedder) Dimensions() int { return m.dimensions }

// Close implements Embedder.
func (m *MockEmbedder) Close() error { return nil }

func allZero(x []float32) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}
