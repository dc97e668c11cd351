// Package decode provides the built-in motion-field decoders: the .mvec
// dump reader, the gocv dense optical-flow decoder and a synthetic source
// for tests and dry runs.
package decode

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
)

// Mvec reads motion fields from a stream of exchange-format frame blocks
// (a .mvec dump produced by an external extractor).
type Mvec struct {
	r      *bufio.Reader
	closer io.Closer
	frame  int
	done   bool
}

// NewMvec wraps an open stream of frame blocks.
func NewMvec(r io.Reader) *Mvec {
	return &Mvec{r: bufio.NewReader(r)}
}

// OpenMvec opens a .mvec file.
func OpenMvec(path string) (*Mvec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mvec dump: %w", err)
	}
	return &Mvec{r: bufio.NewReader(f), closer: f}, nil
}

// Next returns the next frame's motion field. A corrupt block is reported
// once as a *pipeline.DecodeError; since the framing is lost at that point
// the source is treated as exhausted and later calls return io.EOF.
func (m *Mvec) Next() (*field.MotionField, error) {
	if m.done {
		return nil, io.EOF
	}
	f, err := field.Read(m.r)
	if err != nil {
		m.done = true
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &pipeline.DecodeError{Frame: m.frame, Err: err}
	}
	m.frame++
	return f, nil
}

// Close releases the underlying file, if any.
func (m *Mvec) Close() error {
	m.done = true
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}
