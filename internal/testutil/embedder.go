package testutil

import (
	"bytes"
	"context"
	"os"
	"sync"

	"github.com/roach88/motionguard/internal/matcher"
)

// FakeEmbedder resolves an image to an embedding by the tag written into it
// by JPEG(tag). Unknown tags have no face; tags in Errs fail.
type FakeEmbedder struct {
	Faces map[string]matcher.Embedding
	Errs  map[string]error

	mu    sync.Mutex
	calls []string
}

// NewFakeEmbedder returns an embedder over faces.
func NewFakeEmbedder(faces map[string]matcher.Embedding) *FakeEmbedder {
	return &FakeEmbedder{Faces: faces, Errs: map[string]error{}}
}

// Embed implements matcher.Embedder.
func (e *FakeEmbedder) Embed(_ context.Context, imagePath string) (matcher.Embedding, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	tag := string(bytes.TrimPrefix(data, JPEG("")))

	e.mu.Lock()
	e.calls = append(e.calls, tag)
	e.mu.Unlock()

	if err := e.Errs[tag]; err != nil {
		return nil, err
	}
	return e.Faces[tag], nil
}

// Calls returns the tags embedded, in call order.
func (e *FakeEmbedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}
