package plugin

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/golang/geo/r3"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
	"github.com/ayusman/egomotion/internal/pose"
)

// process wraps one running plugin executable. Each bound instance owns its
// process exclusively; calls are serialized by the owning pipeline per the
// decoder/estimator contracts, so no locking happens here.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// spawn starts the plugin executable and performs the describe handshake,
// re-verifying the descriptor the running binary reports against the
// registered manifest. A stale binary next to a fresh manifest is caught
// here rather than mid-run.
func spawn(h *Handle, args []string) (*process, error) {
	cmd := exec.Command(h.Executable, args...)
	cmd.Dir = h.Dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LoadError{Path: h.Dir, Reason: "opening stdin", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LoadError{Path: h.Dir, Reason: "opening stdout", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &LoadError{Path: h.Dir, Reason: "starting executable", Err: err}
	}

	p := &process{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	resp, err := p.roundTrip(&request{Op: "describe", Args: args})
	if err != nil {
		p.kill()
		return nil, &LoadError{Path: h.Dir, Reason: "describe handshake", Err: err}
	}
	d := resp.Descriptor
	if d == nil {
		p.kill()
		return nil, &LoadError{Path: h.Dir, Reason: "plugin did not report a descriptor"}
	}
	if d.ABIHash != ABIHash() {
		p.kill()
		return nil, &LoadError{Path: h.Dir, Reason: "running binary reports a different abi hash"}
	}
	if major, _, err := parseVersion(d.Version); err != nil || major != h.Descriptor.Major {
		p.kill()
		return nil, &LoadError{Path: h.Dir, Reason: "running binary reports a different major version"}
	}
	return p, nil
}

// roundTrip sends one JSON request and reads one JSON response.
func (p *process) roundTrip(req *request) (*response, error) {
	if err := writeJSON(p.stdin, req); err != nil {
		return nil, err
	}
	tag, payload, err := readFrame(p.stdout)
	if err != nil {
		return nil, err
	}
	if tag != frameJSON {
		return nil, fmt.Errorf("expected JSON frame, got tag %q", tag)
	}
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *process) kill() {
	p.stdin.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
}

// close asks the plugin to exit and waits for it.
func (p *process) close() error {
	_ = writeJSON(p.stdin, &request{Op: "close"})
	p.stdin.Close()
	return p.cmd.Wait()
}

// RemoteDecoder is a pipeline.Decoder backed by a plugin process.
type RemoteDecoder struct {
	proc  *process
	frame int
	done  bool
}

// NewDecoder binds a decoder instance from a registered plugin. args are
// passed through to the plugin (typically the source path).
func (r *Registry) NewDecoder(h *Handle, args []string) (*RemoteDecoder, error) {
	if !h.Descriptor.HasCapability(CapabilityDecoder) {
		return nil, &LoadError{Path: h.Dir, Reason: "plugin has no decoder capability"}
	}
	proc, err := spawn(h, args)
	if err != nil {
		return nil, err
	}
	return &RemoteDecoder{proc: proc}, nil
}

// Next implements pipeline.Decoder over the wire protocol.
func (d *RemoteDecoder) Next() (*field.MotionField, error) {
	if d.done {
		return nil, io.EOF
	}
	if err := writeJSON(d.proc.stdin, &request{Op: "next"}); err != nil {
		d.done = true
		return nil, fmt.Errorf("plugin decoder write: %w", err)
	}
	tag, payload, err := readFrame(d.proc.stdout)
	if err != nil {
		d.done = true
		return nil, fmt.Errorf("plugin decoder read: %w", err)
	}
	switch tag {
	case frameField:
		f, err := decodeField(payload)
		if err != nil {
			return nil, &pipeline.DecodeError{Frame: d.frame, Err: err}
		}
		d.frame++
		return f, nil
	case frameJSON:
		var resp response
		if err := json.Unmarshal(payload, &resp); err != nil {
			d.done = true
			return nil, err
		}
		if resp.EOF {
			d.done = true
			return nil, io.EOF
		}
		if resp.Error != "" {
			if resp.Recoverable {
				return nil, &pipeline.DecodeError{Frame: d.frame, Err: fmt.Errorf("%s", resp.Error)}
			}
			d.done = true
			return nil, fmt.Errorf("plugin decoder: %s", resp.Error)
		}
		d.done = true
		return nil, fmt.Errorf("plugin decoder sent an empty response")
	default:
		d.done = true
		return nil, fmt.Errorf("plugin decoder sent unknown frame tag %q", tag)
	}
}

// Close implements pipeline.Decoder.
func (d *RemoteDecoder) Close() error {
	d.done = true
	return d.proc.close()
}

// RemoteEstimator is a pipeline.Estimator backed by a plugin process.
type RemoteEstimator struct {
	proc *process
}

// NewEstimator binds an estimator instance from a registered plugin.
func (r *Registry) NewEstimator(h *Handle, args []string) (*RemoteEstimator, error) {
	if !h.Descriptor.HasCapability(CapabilityEstimator) {
		return nil, &LoadError{Path: h.Dir, Reason: "plugin has no estimator capability"}
	}
	proc, err := spawn(h, args)
	if err != nil {
		return nil, err
	}
	return &RemoteEstimator{proc: proc}, nil
}

// Estimate implements pipeline.Estimator over the wire protocol. The field
// is marshaled by value; failure reason strings are mapped back onto the
// pipeline's sentinel errors so gap handling works across the boundary.
func (e *RemoteEstimator) Estimate(f *field.MotionField, intr camera.Intrinsics) (pipeline.Estimate, error) {
	req := &request{Op: "estimate", Intrinsics: &intrinsics{
		Fx: intr.Fx, Fy: intr.Fy, Cx: intr.Cx, Cy: intr.Cy,
		Width: intr.Width, Height: intr.Height,
	}}
	if err := writeJSON(e.proc.stdin, req); err != nil {
		return pipeline.Estimate{}, fmt.Errorf("plugin estimator write: %w", err)
	}
	if err := writeField(e.proc.stdin, f); err != nil {
		return pipeline.Estimate{}, fmt.Errorf("plugin estimator write field: %w", err)
	}
	tag, payload, err := readFrame(e.proc.stdout)
	if err != nil {
		return pipeline.Estimate{}, fmt.Errorf("plugin estimator read: %w", err)
	}
	if tag != frameJSON {
		return pipeline.Estimate{}, fmt.Errorf("plugin estimator sent unknown frame tag %q", tag)
	}
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return pipeline.Estimate{}, err
	}
	if resp.Error != "" {
		return pipeline.Estimate{}, estimationError(resp.Error)
	}
	if resp.Rotation == nil || resp.Translation == nil {
		return pipeline.Estimate{}, fmt.Errorf("plugin estimator sent an incomplete pose")
	}
	p := pose.New(*resp.Rotation, r3.Vector{
		X: resp.Translation[0], Y: resp.Translation[1], Z: resp.Translation[2],
	})
	return pipeline.Estimate{Pose: p, Inliers: resp.Inliers, Confidence: resp.Confidence}, nil
}

// Close shuts the estimator process down.
func (e *RemoteEstimator) Close() error { return e.proc.close() }

// Failure reason codes carried in the estimator protocol.
const (
	reasonTooFew     = "too-few-vectors"
	reasonDegenerate = "degenerate"
	reasonLowInliers = "low-inlier-ratio"
	reasonAmbiguous  = "ambiguous-pose"
)

// FailureReason maps an estimation failure to its wire reason code, for
// plugin implementations; empty for other errors.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pipeline.ErrTooFewVectors):
		return reasonTooFew
	case errors.Is(err, pipeline.ErrDegenerateField):
		return reasonDegenerate
	case errors.Is(err, pipeline.ErrLowInlierRatio):
		return reasonLowInliers
	case errors.Is(err, pipeline.ErrAmbiguousPose):
		return reasonAmbiguous
	default:
		return ""
	}
}

func estimationError(reason string) error {
	switch reason {
	case reasonTooFew:
		return pipeline.ErrTooFewVectors
	case reasonDegenerate:
		return pipeline.ErrDegenerateField
	case reasonLowInliers:
		return pipeline.ErrLowInlierRatio
	case reasonAmbiguous:
		return pipeline.ErrAmbiguousPose
	default:
		return fmt.Errorf("plugin estimator: %s", reason)
	}
}
