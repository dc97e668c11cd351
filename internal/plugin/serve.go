package plugin

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
)

// ServeConfig describes a plugin executable to Serve. Exactly the
// capabilities with a non-nil factory are advertised.
type ServeConfig struct {
	Name    string
	Version string // "major.minor"

	// NewDecoder builds the decoder when the host binds one; args come
	// from the host (typically the source path).
	NewDecoder func(args []string) (pipeline.Decoder, error)
	// NewEstimator builds the estimator when the host binds one.
	NewEstimator func(args []string) (pipeline.Estimator, error)
}

func (c ServeConfig) capabilities() []Capability {
	var caps []Capability
	if c.NewDecoder != nil {
		caps = append(caps, CapabilityDecoder)
	}
	if c.NewEstimator != nil {
		caps = append(caps, CapabilityEstimator)
	}
	return caps
}

// Serve runs the plugin side of the framed stdio protocol until the host
// sends close or stdin closes. Intended as the whole body of a plugin's
// main: os.Exit(plugin.Serve(cfg)).
func Serve(cfg ServeConfig) int {
	if err := serve(cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cfg.Name, err)
		return 1
	}
	return 0
}

func serve(cfg ServeConfig, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	w := bufio.NewWriter(out)

	var dec pipeline.Decoder
	var est pipeline.Estimator

	defer func() {
		if dec != nil {
			dec.Close()
		}
	}()

	for {
		req, err := readRequest(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch req.Op {
		case "describe":
			resp := response{Descriptor: &wireDescriptor{
				Name:         cfg.Name,
				Version:      cfg.Version,
				ABIHash:      ABIHash(),
				Capabilities: cfg.capabilities(),
			}}
			if err := replyJSON(w, &resp); err != nil {
				return err
			}
			// The host passes bind args with describe; construct lazily so
			// a describe-only probe does not open the source.
			if cfg.NewDecoder != nil && dec == nil {
				if dec, err = cfg.NewDecoder(req.Args); err != nil {
					return err
				}
			}
			if cfg.NewEstimator != nil && est == nil {
				if est, err = cfg.NewEstimator(req.Args); err != nil {
					return err
				}
			}

		case "next":
			if dec == nil {
				if err := replyJSON(w, &response{Error: "no decoder bound"}); err != nil {
					return err
				}
				continue
			}
			f, err := dec.Next()
			switch {
			case err == nil:
				if err := writeField(w, f); err != nil {
					return err
				}
				if err := w.Flush(); err != nil {
					return err
				}
			case errors.Is(err, io.EOF):
				if err := replyJSON(w, &response{EOF: true}); err != nil {
					return err
				}
			default:
				var decErr *pipeline.DecodeError
				resp := response{Error: err.Error(), Recoverable: errors.As(err, &decErr)}
				if err := replyJSON(w, &resp); err != nil {
					return err
				}
			}

		case "estimate":
			if est == nil {
				if err := replyJSON(w, &response{Error: "no estimator bound"}); err != nil {
					return err
				}
				continue
			}
			f, err := readFieldFrame(r)
			if err != nil {
				return err
			}
			if req.Intrinsics == nil {
				if err := replyJSON(w, &response{Error: "estimate request carries no intrinsics"}); err != nil {
					return err
				}
				continue
			}
			intr := camera.Intrinsics{
				Fx: req.Intrinsics.Fx, Fy: req.Intrinsics.Fy,
				Cx: req.Intrinsics.Cx, Cy: req.Intrinsics.Cy,
				Width: req.Intrinsics.Width, Height: req.Intrinsics.Height,
			}
			result, err := est.Estimate(f, intr)
			if err != nil {
				reason := FailureReason(err)
				if reason == "" {
					reason = err.Error()
				}
				if err := replyJSON(w, &response{Error: reason}); err != nil {
					return err
				}
				continue
			}
			rot := result.Pose.Rotation()
			trans := [3]float64{result.Pose.T.X, result.Pose.T.Y, result.Pose.T.Z}
			resp := response{
				Rotation:    &rot,
				Translation: &trans,
				Inliers:     result.Inliers,
				Confidence:  result.Confidence,
			}
			if err := replyJSON(w, &resp); err != nil {
				return err
			}

		case "close":
			return nil

		default:
			if err := replyJSON(w, &response{Error: fmt.Sprintf("unknown op %q", req.Op)}); err != nil {
				return err
			}
		}
	}
}

func readRequest(r io.Reader) (*request, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	if tag != frameJSON {
		return nil, fmt.Errorf("expected JSON frame, got tag %q", tag)
	}
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func readFieldFrame(r io.Reader) (*field.MotionField, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	if tag != frameField {
		return nil, fmt.Errorf("expected field frame, got tag %q", tag)
	}
	return decodeField(payload)
}

func replyJSON(w *bufio.Writer, v any) error {
	if err := writeJSON(w, v); err != nil {
		return err
	}
	return w.Flush()
}
