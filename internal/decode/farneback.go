package decode

import (
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"github.com/ayusman/egomotion/internal/field"
	"github.com/ayusman/egomotion/internal/pipeline"
)

// Farneback parameters, matching the dense-flow extraction the estimator
// was tuned against.
const (
	flowPyrScale   = 0.5
	flowLevels     = 5
	flowWinSize    = 11
	flowIterations = 3
	flowPolyN      = 5
	flowPolySigma  = 1.1
	// flowStride subsamples the dense flow into a sparse motion field; one
	// vector per stride x stride block is plenty for pose estimation.
	flowStride = 8
)

// Farneback decodes video frames with gocv and turns dense Farneback
// optical flow into a motion field per consecutive frame pair. It keeps the
// previous grayscale frame across calls.
type Farneback struct {
	capture  *gocv.VideoCapture
	frame    gocv.Mat
	gray     gocv.Mat
	prevGray gocv.Mat
	flow     gocv.Mat
	havePrev bool
	frameIdx int
	done     bool
}

// OpenFarneback opens a video file or stream URL readable by OpenCV.
func OpenFarneback(source string) (*Farneback, error) {
	capture, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("open video source %q: %w", source, err)
	}
	return &Farneback{
		capture:  capture,
		frame:    gocv.NewMat(),
		gray:     gocv.NewMat(),
		prevGray: gocv.NewMat(),
		flow:     gocv.NewMat(),
	}, nil
}

// Next implements pipeline.Decoder. The first call consumes two frames to
// prime the previous-frame buffer.
func (d *Farneback) Next() (*field.MotionField, error) {
	if d.done {
		return nil, io.EOF
	}

	for {
		if ok := d.capture.Read(&d.frame); !ok {
			d.done = true
			return nil, io.EOF
		}
		d.frameIdx++
		if d.frame.Empty() {
			return nil, &pipeline.DecodeError{Frame: d.frameIdx, Err: fmt.Errorf("empty frame")}
		}

		d.prevGray, d.gray = d.gray, d.prevGray
		gocv.CvtColor(d.frame, &d.gray, gocv.ColorBGRToGray)

		if !d.havePrev {
			d.havePrev = true
			continue
		}
		break
	}

	gocv.CalcOpticalFlowFarneback(d.prevGray, d.gray, &d.flow,
		flowPyrScale, flowLevels, flowWinSize, flowIterations, flowPolyN, flowPolySigma, 0)

	width := d.gray.Cols()
	height := d.gray.Rows()
	f := field.New(width, height)
	for y := flowStride / 2; y < height; y += flowStride {
		for x := flowStride / 2; x < width; x += flowStride {
			v := d.flow.GetVecfAt(y, x)
			f.Add(field.MotionVector{
				X:  float32(x),
				Y:  float32(y),
				DX: v[0],
				DY: v[1],
			})
		}
	}
	return f, nil
}

// Resolution returns the source frame size once a frame has been read.
func (d *Farneback) Resolution() (image.Point, bool) {
	if !d.havePrev {
		return image.Point{}, false
	}
	return image.Point{X: d.gray.Cols(), Y: d.gray.Rows()}, true
}

// Close releases the capture and all mats.
func (d *Farneback) Close() error {
	d.done = true
	d.frame.Close()
	d.gray.Close()
	d.prevGray.Close()
	d.flow.Close()
	return d.capture.Close()
}
