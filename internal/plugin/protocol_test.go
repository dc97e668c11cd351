package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
	"github.com/ayusman/egomotion/internal/pose"
)

func TestABIHash_IsStable(t *testing.T) {
	h := ABIHash()
	if len(h) != 64 {
		t.Errorf("ABIHash() length = %d, want 64 hex chars", len(h))
	}
	if h != ABIHash() {
		t.Error("ABIHash() is not deterministic")
	}
}

func TestFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frames")
	if err := writeFrame(&buf, frameJSON, payload); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}

	tag, got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if tag != frameJSON || !bytes.Equal(got, payload) {
		t.Errorf("readFrame() = %q, %q", tag, got)
	}
}

func TestReadFrame_RejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{255, 255, 255, 255, frameJSON})
	if _, _, err := readFrame(&buf); err == nil {
		t.Error("readFrame() should reject a 4GiB payload claim")
	}
}

func TestFieldFrameRoundtrip(t *testing.T) {
	f := field.New(320, 240)
	f.Add(field.MotionVector{X: 5, Y: 6, DX: 0.5, DY: -1})

	var buf bytes.Buffer
	if err := writeField(&buf, f); err != nil {
		t.Fatalf("writeField() error = %v", err)
	}
	tag, payload, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if tag != frameField {
		t.Fatalf("tag = %q, want field frame", tag)
	}

	got, err := decodeField(payload)
	if err != nil {
		t.Fatalf("decodeField() error = %v", err)
	}
	if got.Width != 320 || got.Len() != 1 || got.Vectors[0] != f.Vectors[0] {
		t.Errorf("decoded field = %+v", got)
	}
}

// sliceDecoder serves canned fields for serve-loop tests.
type sliceDecoder struct {
	fields []*field.MotionField
	pos    int
}

func (d *sliceDecoder) Next() (*field.MotionField, error) {
	if d.pos >= len(d.fields) {
		return nil, io.EOF
	}
	f := d.fields[d.pos]
	d.pos++
	return f, nil
}

func (d *sliceDecoder) Close() error { return nil }

// fixedEstimator returns one canned result or error.
type fixedEstimator struct {
	result pipeline.Estimate
	err    error
}

func (e *fixedEstimator) Estimate(f *field.MotionField, intr camera.Intrinsics) (pipeline.Estimate, error) {
	if e.err != nil {
		return pipeline.Estimate{}, e.err
	}
	return e.result, nil
}

// runServe feeds the request frames through the serve loop and returns the
// response stream.
func runServe(t *testing.T, cfg ServeConfig, in *bytes.Buffer) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	if err := serve(cfg, in, &out); err != nil {
		t.Fatalf("serve() error = %v", err)
	}
	return &out
}

func readResponse(t *testing.T, out *bytes.Buffer) *response {
	t.Helper()
	tag, payload, err := readFrame(out)
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if tag != frameJSON {
		t.Fatalf("tag = %q, want JSON", tag)
	}
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return &resp
}

func TestServe_DescribeAndDecode(t *testing.T) {
	f := field.New(100, 100)
	f.Add(field.MotionVector{X: 1, Y: 2, DX: 3, DY: 4})
	dec := &sliceDecoder{fields: []*field.MotionField{f}}

	var in bytes.Buffer
	writeJSON(&in, &request{Op: "describe"})
	writeJSON(&in, &request{Op: "next"})
	writeJSON(&in, &request{Op: "next"})
	writeJSON(&in, &request{Op: "close"})

	out := runServe(t, ServeConfig{
		Name:    "replay",
		Version: "1.0",
		NewDecoder: func(args []string) (pipeline.Decoder, error) {
			return dec, nil
		},
	}, &in)

	desc := readResponse(t, out)
	if desc.Descriptor == nil {
		t.Fatal("describe produced no descriptor")
	}
	if desc.Descriptor.ABIHash != ABIHash() {
		t.Errorf("descriptor abi hash = %s", desc.Descriptor.ABIHash)
	}
	if len(desc.Descriptor.Capabilities) != 1 || desc.Descriptor.Capabilities[0] != CapabilityDecoder {
		t.Errorf("capabilities = %v, want [decoder]", desc.Descriptor.Capabilities)
	}

	tag, payload, err := readFrame(out)
	if err != nil || tag != frameField {
		t.Fatalf("first next: tag = %q, err = %v, want field frame", tag, err)
	}
	got, err := decodeField(payload)
	if err != nil || got.Len() != 1 {
		t.Fatalf("decodeField() = %+v, %v", got, err)
	}

	eof := readResponse(t, out)
	if !eof.EOF {
		t.Errorf("second next = %+v, want EOF response", eof)
	}
}

func TestServe_EstimateSuccess(t *testing.T) {
	want := pipeline.Estimate{
		Pose:       pose.New([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, r3.Vector{X: 1}),
		Inliers:    []int{0, 2},
		Confidence: 0.8,
	}

	f := field.New(100, 100)
	f.Add(field.MotionVector{X: 1, Y: 1, DX: 1, DY: 0})

	var in bytes.Buffer
	writeJSON(&in, &request{Op: "describe"})
	writeJSON(&in, &request{
		Op:         "estimate",
		Intrinsics: &intrinsics{Fx: 1000, Fy: 1000, Cx: 50, Cy: 50, Width: 100, Height: 100},
	})
	writeField(&in, f)
	writeJSON(&in, &request{Op: "close"})

	out := runServe(t, ServeConfig{
		Name:    "fixed",
		Version: "1.0",
		NewEstimator: func(args []string) (pipeline.Estimator, error) {
			return &fixedEstimator{result: want}, nil
		},
	}, &in)

	readResponse(t, out) // describe
	resp := readResponse(t, out)
	if resp.Error != "" {
		t.Fatalf("estimate error = %s", resp.Error)
	}
	if resp.Rotation == nil || resp.Translation == nil {
		t.Fatal("estimate response missing pose")
	}
	if resp.Translation[0] != 1 || resp.Confidence != 0.8 {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Inliers) != 2 {
		t.Errorf("inliers = %v, want [0 2]", resp.Inliers)
	}
}

func TestServe_EstimateFailureCarriesReasonCode(t *testing.T) {
	f := field.New(100, 100)

	var in bytes.Buffer
	writeJSON(&in, &request{Op: "describe"})
	writeJSON(&in, &request{
		Op:         "estimate",
		Intrinsics: &intrinsics{Fx: 1000, Fy: 1000, Cx: 50, Cy: 50, Width: 100, Height: 100},
	})
	writeField(&in, f)
	writeJSON(&in, &request{Op: "close"})

	out := runServe(t, ServeConfig{
		Name:    "failing",
		Version: "1.0",
		NewEstimator: func(args []string) (pipeline.Estimator, error) {
			return &fixedEstimator{err: pipeline.ErrLowInlierRatio}, nil
		},
	}, &in)

	readResponse(t, out) // describe
	resp := readResponse(t, out)
	if resp.Error != reasonLowInliers {
		t.Errorf("error = %q, want %q", resp.Error, reasonLowInliers)
	}

	// The host side maps the reason back onto the sentinel
	if err := estimationError(resp.Error); !errors.Is(err, pipeline.ErrLowInlierRatio) {
		t.Errorf("estimationError(%q) = %v", resp.Error, err)
	}
}

func TestFailureReason_RoundtripsSentinels(t *testing.T) {
	for _, sentinel := range []error{
		pipeline.ErrTooFewVectors,
		pipeline.ErrDegenerateField,
		pipeline.ErrLowInlierRatio,
		pipeline.ErrAmbiguousPose,
	} {
		reason := FailureReason(sentinel)
		if reason == "" {
			t.Errorf("FailureReason(%v) is empty", sentinel)
			continue
		}
		if got := estimationError(reason); !errors.Is(got, sentinel) {
			t.Errorf("estimationError(%q) = %v, want %v", reason, got, sentinel)
		}
	}

	if FailureReason(errors.New("unrelated")) != "" {
		t.Error("FailureReason() invented a code for an unrelated error")
	}
	if FailureReason(nil) != "" {
		t.Error("FailureReason(nil) should be empty")
	}
}
