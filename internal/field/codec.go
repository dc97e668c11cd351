package field

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Exchange format limits. A frame block larger than this is considered
// corrupt rather than decoded.
const MaxVectorsPerFrame = 1 << 22

// The motion-field exchange format is the boundary between external frame
// sources and the estimation core: per frame, a little-endian header of
// three uint32 values (width, height, vector count) followed by count
// (x, y, dx, dy) float32 quadruples. A .mvec file is a sequence of such
// frame blocks.

// Write encodes the field as one frame block.
func Write(w io.Writer, f *MotionField) error {
	hdr := [3]uint32{uint32(f.Width), uint32(f.Height), uint32(len(f.Vectors))}
	if err := binary.Write(w, binary.LittleEndian, hdr[:]); err != nil {
		return fmt.Errorf("write field header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, f.Vectors); err != nil {
		return fmt.Errorf("write field vectors: %w", err)
	}
	return nil
}

// Read decodes a single frame block. It returns io.EOF when the reader is
// exhausted at a frame boundary; a block cut short mid-frame yields
// io.ErrUnexpectedEOF.
func Read(r io.Reader) (*MotionField, error) {
	var hdr [3]uint32
	if err := binary.Read(r, binary.LittleEndian, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read field header: %w", err)
	}
	count := hdr[2]
	if count > MaxVectorsPerFrame {
		return nil, fmt.Errorf("field block claims %d vectors, limit is %d", count, MaxVectorsPerFrame)
	}
	f := &MotionField{
		Width:   int(hdr[0]),
		Height:  int(hdr[1]),
		Vectors: make([]MotionVector, count),
	}
	if err := binary.Read(r, binary.LittleEndian, f.Vectors); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read field vectors: %w", err)
	}
	return f, nil
}
