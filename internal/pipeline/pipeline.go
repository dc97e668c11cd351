package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/field"
)

// prefetchDepth bounds how many decoded fields may sit between the decode
// goroutine and the estimator. Decoding frame N+1 may overlap estimating
// frame N, but frames are delivered strictly in order.
const prefetchDepth = 2

// Config holds pipeline configuration.
type Config struct {
	Intrinsics camera.Intrinsics
	Decoder    Decoder
	Estimator  Estimator
	// BaselineScale, when non-zero, rescales unit translation directions to
	// an externally known metric baseline.
	BaselineScale float64
	// Sink, when set, receives every trajectory record as it is appended.
	Sink func(Record)
}

// Pipeline runs the decode → estimate → integrate chain for one source.
// The chain is inherently sequential: each cumulative pose depends on the
// previous one, so frames are never reordered.
type Pipeline struct {
	config     Config
	trajectory Trajectory
	integrator *Integrator

	mu            sync.Mutex
	estimator     Estimator
	pendingDec    Decoder
	pendingEst    Estimator
	stopRequested bool
	running       bool
}

// New creates a pipeline. Decoder and Estimator instances passed here (or
// swapped in later) are exclusively owned by this pipeline and must not be
// shared with another running pipeline.
func New(config Config) (*Pipeline, error) {
	if err := config.Intrinsics.Validate(); err != nil {
		return nil, err
	}
	if config.Decoder == nil || config.Estimator == nil {
		return nil, errors.New("pipeline needs both a decoder and an estimator")
	}
	return &Pipeline{
		config:     config,
		integrator: NewIntegrator(config.BaselineScale),
		estimator:  config.Estimator,
	}, nil
}

// Trajectory returns the trajectory accumulated so far.
func (p *Pipeline) Trajectory() *Trajectory { return &p.trajectory }

// Stop requests cooperative shutdown: the in-flight frame completes, then
// Run returns. There is no mid-frame cancellation; partial RANSAC state is
// not a meaningful result.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopRequested = true
	p.mu.Unlock()
}

// SwapDecoder substitutes the active decoder at the next frame boundary.
// The replaced decoder is closed by the pipeline.
func (p *Pipeline) SwapDecoder(d Decoder) {
	p.mu.Lock()
	p.pendingDec = d
	p.mu.Unlock()
}

// SwapEstimator substitutes the active estimator at the next frame boundary.
func (p *Pipeline) SwapEstimator(e Estimator) {
	p.mu.Lock()
	p.pendingEst = e
	p.mu.Unlock()
}

// frameResult is one decode outcome handed from the prefetch goroutine to
// the estimation loop.
type frameResult struct {
	field *field.MotionField
	err   error
}

// Run processes the source to completion. Per-frame decode and estimation
// failures are absorbed as trajectory gaps; an internal invariant violation
// (an estimator producing a non-orthonormal rotation) aborts the run, since
// it indicates a numerical bug rather than bad input.
func (p *Pipeline) Run() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pipeline is already running")
	}
	p.running = true
	p.stopRequested = false
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	frames := make(chan frameResult, prefetchDepth)
	decoderSwap := make(chan Decoder, 1)
	stopDecode := make(chan struct{})
	decodeDone := make(chan struct{})
	var closeOnce sync.Once
	stopDecoding := func() { closeOnce.Do(func() { close(stopDecode) }) }
	// Run must not return while the decode goroutine can still touch the
	// decoder: stop it, join it, then close any swapped-in decoder that
	// never reached it.
	defer func() {
		stopDecoding()
		<-decodeDone
		select {
		case d := <-decoderSwap:
			if err := d.Close(); err != nil {
				log.Printf("pipeline: closing unapplied decoder: %v", err)
			}
		default:
		}
		p.mu.Lock()
		pending := p.pendingDec
		p.pendingDec = nil
		p.mu.Unlock()
		if pending != nil {
			if err := pending.Close(); err != nil {
				log.Printf("pipeline: closing unapplied decoder: %v", err)
			}
		}
	}()

	go func() {
		defer close(decodeDone)
		p.decodeLoop(frames, decoderSwap, stopDecode)
	}()

	frameIndex := 0
	for res := range frames {
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				break
			}
			var de *DecodeError
			if errors.As(res.err, &de) {
				log.Printf("pipeline: skipping frame %d: %v", frameIndex, res.err)
				p.appendGap(frameIndex)
				frameIndex++
				continue
			}
			return fmt.Errorf("decoder failed: %w", res.err)
		}

		if err := p.processFrame(frameIndex, res.field); err != nil {
			return err
		}
		frameIndex++

		p.mu.Lock()
		stop := p.stopRequested
		if p.pendingEst != nil {
			p.estimator = p.pendingEst
			p.pendingEst = nil
			log.Printf("pipeline: estimator swapped at frame boundary %d", frameIndex)
		}
		if p.pendingDec != nil {
			select {
			case decoderSwap <- p.pendingDec:
				p.pendingDec = nil
			default:
				// An earlier swap is still unapplied; this one stays pending
				// and is retried at the next boundary.
			}
		}
		p.mu.Unlock()
		if stop {
			break
		}
	}
	return nil
}

// decodeLoop owns the decoder and prefetches fields ahead of estimation.
// It is the only goroutine touching the decoder, which keeps the
// serialized-calls contract intact while hiding decode latency.
func (p *Pipeline) decodeLoop(frames chan<- frameResult, swap <-chan Decoder, stop <-chan struct{}) {
	defer close(frames)
	dec := p.config.Decoder
	defer func() {
		if err := dec.Close(); err != nil {
			log.Printf("pipeline: closing decoder: %v", err)
		}
	}()

	for {
		select {
		case <-stop:
			return
		case next := <-swap:
			if err := dec.Close(); err != nil {
				log.Printf("pipeline: closing swapped-out decoder: %v", err)
			}
			dec = next
			log.Printf("pipeline: decoder swapped at frame boundary")
		default:
		}

		f, err := dec.Next()
		select {
		case frames <- frameResult{field: f, err: err}:
		case <-stop:
			return
		}
		if err != nil && errors.Is(err, io.EOF) {
			return
		}
	}
}

// processFrame estimates one frame and appends the resulting record.
func (p *Pipeline) processFrame(frameIndex int, f *field.MotionField) error {
	p.mu.Lock()
	est := p.estimator
	p.mu.Unlock()

	estimate, err := est.Estimate(f, p.config.Intrinsics)
	if err != nil {
		if IsEstimationFailure(err) {
			log.Printf("pipeline: frame %d: no estimate: %v", frameIndex, err)
			p.appendGap(frameIndex)
			return nil
		}
		return fmt.Errorf("frame %d: %w", frameIndex, err)
	}

	// A corrupted rotation here is a numerical bug; continuing would
	// silently poison every later cumulative pose.
	if err := estimate.Pose.Validate(); err != nil {
		return fmt.Errorf("frame %d: %w", frameIndex, err)
	}

	cumulative := p.integrator.Integrate(estimate.Pose)
	rec := Record{
		FrameIndex: frameIndex,
		Pose:       &cumulative,
		Inliers:    len(estimate.Inliers),
		Confidence: estimate.Confidence,
	}
	if err := p.trajectory.Append(rec); err != nil {
		return err
	}
	if p.config.Sink != nil {
		p.config.Sink(rec)
	}
	return nil
}

// appendGap records a frame with no estimate, leaving the cumulative pose
// untouched so consumers can tell "no motion" from "no estimate".
func (p *Pipeline) appendGap(frameIndex int) {
	rec := Record{FrameIndex: frameIndex, Missing: true}
	if err := p.trajectory.Append(rec); err != nil {
		log.Printf("pipeline: dropping gap record: %v", err)
		return
	}
	if p.config.Sink != nil {
		p.config.Sink(rec)
	}
}
