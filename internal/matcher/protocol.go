package matcher

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize caps a single protocol message.
const maxFrameSize = 16 << 20

// embedRequest asks the worker to embed the face in an image file.
type embedRequest struct {
	ImagePath string `msgpack:"image_path"`
}

// embedResponse carries either an embedding, nothing (no face) or an error.
type embedResponse struct {
	Embedding []float64 `msgpack:"embedding"`
	Error     string    `msgpack:"error"`
}

// writeFrame writes v as a 4-byte big-endian length followed by msgpack bytes.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed msgpack message into v.
func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return fmt.Errorf("read payload: message of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// WorkerError is an error reported by the worker itself. The stream is
// still in sync after one.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string { return "worker: " + e.Message }

// Client speaks the embedding protocol over a pair of streams. It is not safe
// for concurrent use.
type Client struct {
	w io.Writer
	r io.Reader
}

// NewClient returns a client writing requests to w and reading responses from r.
func NewClient(w io.Writer, r io.Reader) *Client {
	return &Client{w: w, r: r}
}

// Embed performs one request/response round trip.
func (c *Client) Embed(imagePath string) (Embedding, error) {
	if err := writeFrame(c.w, embedRequest{ImagePath: imagePath}); err != nil {
		return nil, err
	}
	var resp embedResponse
	if err := readFrame(c.r, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &WorkerError{Message: resp.Error}
	}
	if len(resp.Embedding) == 0 {
		return nil, nil
	}
	return Embedding(resp.Embedding), nil
}
