package pipeline

import (
	"fmt"

	"github.com/ayusman/egomotion/internal/pose"
)

// Record is one trajectory entry. Frames whose estimate failed are recorded
// with Missing=true and a nil Pose rather than omitted, so record count
// equals frames processed and consumers can tell "no motion" from "no
// estimate".
type Record struct {
	FrameIndex int
	Pose       *pose.Pose // cumulative pose; nil when Missing
	Inliers    int
	Confidence float64
	Missing    bool
}

// Trajectory is the append-only pose history of one run. Frame indices are
// strictly increasing. It is owned by the pipeline driver and reset only on
// explicit restart.
type Trajectory struct {
	records []Record
}

// Append adds a record. It returns an error when the frame index does not
// advance, which would corrupt the history.
func (t *Trajectory) Append(r Record) error {
	if n := len(t.records); n > 0 && r.FrameIndex <= t.records[n-1].FrameIndex {
		return fmt.Errorf("trajectory frame index %d does not advance past %d",
			r.FrameIndex, t.records[n-1].FrameIndex)
	}
	t.records = append(t.records, r)
	return nil
}

// Len returns the number of records, including gaps.
func (t *Trajectory) Len() int { return len(t.records) }

// Records returns the recorded history. The returned slice is shared; do
// not modify it.
func (t *Trajectory) Records() []Record { return t.records }

// Last returns the most recent record and whether one exists.
func (t *Trajectory) Last() (Record, bool) {
	if len(t.records) == 0 {
		return Record{}, false
	}
	return t.records[len(t.records)-1], true
}

// Integrator folds successive relative poses into a cumulative pose. It is
// purely functional: the only state is the running cumulative pose, which
// the pipeline driver owns through this struct.
type Integrator struct {
	cumulative pose.Pose
	// BaselineScale rescales each relative translation before composition.
	// Zero means no external scale is known and unit directions are
	// composed as-is.
	BaselineScale float64
}

// NewIntegrator starts an integrator at the identity pose.
func NewIntegrator(baselineScale float64) *Integrator {
	return &Integrator{cumulative: pose.Identity(), BaselineScale: baselineScale}
}

// Integrate composes the relative pose onto the cumulative one and returns
// the new cumulative pose.
func (g *Integrator) Integrate(rel pose.Pose) pose.Pose {
	if g.BaselineScale != 0 {
		rel = rel.ScaleTranslation(g.BaselineScale)
	}
	g.cumulative = pose.Compose(g.cumulative, rel)
	return g.cumulative
}

// Cumulative returns the current cumulative pose.
func (g *Integrator) Cumulative() pose.Pose { return g.cumulative }

// Reset returns the integrator to the identity pose.
func (g *Integrator) Reset() { g.cumulative = pose.Identity() }
