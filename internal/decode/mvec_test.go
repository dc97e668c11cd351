package decode

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
)

func mvecStream(t *testing.T, frames int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for i := 0; i < frames; i++ {
		f := field.New(640, 480)
		f.Add(field.MotionVector{X: float32(i), Y: 1, DX: 0.5, DY: -0.5})
		f.Add(field.MotionVector{X: 10, Y: float32(i), DX: -1, DY: 2})
		if err := field.Write(&buf, f); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	return &buf
}

func TestMvec_ReadsAllFramesThenEOF(t *testing.T) {
	m := NewMvec(mvecStream(t, 3))
	defer m.Close()

	for i := 0; i < 3; i++ {
		f, err := m.Next()
		if err != nil {
			t.Fatalf("Next() frame %d error = %v", i, err)
		}
		if f.Width != 640 || f.Height != 480 || f.Len() != 2 {
			t.Errorf("frame %d = %dx%d with %d vectors", i, f.Width, f.Height, f.Len())
		}
	}

	if _, err := m.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after last frame error = %v, want io.EOF", err)
	}
	// EOF is sticky
	if _, err := m.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("repeated Next() error = %v, want io.EOF", err)
	}
}

func TestMvec_CorruptBlockReportedOnceThenEOF(t *testing.T) {
	buf := mvecStream(t, 1)
	// Append half a header; the framing is unrecoverable from here
	buf.Write([]byte{1, 2, 3})

	m := NewMvec(buf)
	defer m.Close()

	if _, err := m.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	_, err := m.Next()
	var de *pipeline.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Next() on corrupt block error = %v, want *DecodeError", err)
	}
	if de.Frame != 1 {
		t.Errorf("DecodeError frame = %d, want 1", de.Frame)
	}

	if _, err := m.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after corruption error = %v, want io.EOF", err)
	}
}

func TestOpenMvec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.mvec")
	if err := os.WriteFile(path, mvecStream(t, 2).Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	m, err := OpenMvec(path)
	if err != nil {
		t.Fatalf("OpenMvec() error = %v", err)
	}
	defer m.Close()

	n := 0
	for {
		_, err := m.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("decoded %d frames, want 2", n)
	}

	if _, err := OpenMvec(filepath.Join(t.TempDir(), "missing.mvec")); err == nil {
		t.Error("OpenMvec() of a missing file should fail")
	}
}
