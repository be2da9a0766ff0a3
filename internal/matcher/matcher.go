// Package matcher turns a captured image into the nearest enrolled identity.
//
// Embedding computation is delegated to an Embedder, normally a long-lived
// model subprocess spoken to over stdin/stdout. The gallery of enrolled
// identities is a YAML file; matching is nearest neighbour by cosine
// distance with ties going to the identity enrolled first.
package matcher

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoFace is returned when the embedder found no usable face in the image.
var ErrNoFace = errors.New("no face found")

// Embedder computes the embedding of the face in an image.
// A nil embedding with a nil error means no face was found.
type Embedder interface {
	Embed(ctx context.Context, imagePath string) (Embedding, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, imagePath string) (Embedding, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, imagePath string) (Embedding, error) {
	return f(ctx, imagePath)
}

// Matcher resolves an image to its nearest enrolled identity. Any error
// means the image produced no usable embedding.
type Matcher interface {
	Match(ctx context.Context, imagePath string) (Match, error)
}

// EmbeddingError reports that an image could not be matched.
type EmbeddingError struct {
	Image string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed %s: %v", e.Image, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IsEmbeddingError returns true if err carries an EmbeddingError.
func IsEmbeddingError(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee)
}

// GalleryMatcher matches images against an in-memory gallery.
type GalleryMatcher struct {
	embedder Embedder
	gallery  *Gallery
}

var _ Matcher = (*GalleryMatcher)(nil)

// NewGalleryMatcher returns a matcher over gallery.
func NewGalleryMatcher(embedder Embedder, gallery *Gallery) *GalleryMatcher {
	return &GalleryMatcher{embedder: embedder, gallery: gallery}
}

// Match embeds the image and returns the nearest identity.
func (m *GalleryMatcher) Match(ctx context.Context, imagePath string) (Match, error) {
	e, err := m.embedder.Embed(ctx, imagePath)
	if err != nil {
		return Match{}, &EmbeddingError{Image: imagePath, Err: err}
	}
	if e == nil {
		return Match{}, &EmbeddingError{Image: imagePath, Err: ErrNoFace}
	}
	match, err := m.gallery.Nearest(e)
	if err != nil {
		return Match{}, &EmbeddingError{Image: imagePath, Err: err}
	}
	return match, nil
}
