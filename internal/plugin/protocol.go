package plugin

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ayusman/egomotion/internal/field"
)

// Frame tags for the stdio protocol. Every message is a little-endian
// uint32 payload length, one tag byte, then the payload.
const (
	frameJSON  = byte('J') // JSON control message
	frameField = byte('F') // motion field in the exchange format
)

// maxFramePayload rejects absurd frames before allocating for them.
const maxFramePayload = 1 << 26

// Control message shapes. Ops: "describe", "next", "estimate", "close".
type request struct {
	Op         string      `json:"op"`
	Args       []string    `json:"args,omitempty"`
	Intrinsics *intrinsics `json:"intrinsics,omitempty"`
}

type intrinsics struct {
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

type response struct {
	Descriptor  *wireDescriptor `json:"descriptor,omitempty"`
	EOF         bool            `json:"eof,omitempty"`
	Error       string          `json:"error,omitempty"`
	Recoverable bool            `json:"recoverable,omitempty"`
	Rotation    *[9]float64     `json:"rotation,omitempty"`
	Translation *[3]float64     `json:"translation,omitempty"`
	Inliers     []int           `json:"inliers,omitempty"`
	Confidence  float64         `json:"confidence,omitempty"`
}

type wireDescriptor struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	ABIHash      string       `json:"abiHash"`
	Capabilities []Capability `json:"capabilities"`
}

func writeFrame(w io.Writer, tag byte, payload []byte) error {
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	hdr[4] = tag
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:4])
	if n > maxFramePayload {
		return 0, nil, fmt.Errorf("frame payload of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[4], payload, nil
}

func writeJSON(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFrame(w, frameJSON, payload)
}

func writeField(w io.Writer, f *field.MotionField) error {
	var buf bytes.Buffer
	if err := field.Write(&buf, f); err != nil {
		return err
	}
	return writeFrame(w, frameField, buf.Bytes())
}

func decodeField(payload []byte) (*field.MotionField, error) {
	return field.Read(bytes.NewReader(payload))
}
