package balancer

import (
	"fmt"
	"io"
	"strings"

	"github.com/stephane-caron/proxqp-balancer/internal/metrics"
	"github.com/stephane-caron/proxqp-balancer/internal/mpc"
)

// Report summarizes a run for the terminal.
type Report struct {
	OperativeConfig string      `json:"operative_config"`
	GoalState       []float64   `json:"goal_state"`
	NbTimesteps     int         `json:"nb_timesteps"`
	Shapes          []mpc.Shape `json:"shapes"`
	PlanningTimes   []float64   `json:"planning_times,omitempty"`
	BasePitches     []float64   `json:"base_pitches,omitempty"`
}

func (b *Balancer) Report(result *Result) *Report {
	r := &Report{
		OperativeConfig: b.cfg.OperativeString(),
		GoalState:       append([]float64(nil), b.problem.GoalState...),
		NbTimesteps:     b.problem.NbTimesteps,
		Shapes:          b.mpcQP.Shapes(),
	}
	if result != nil {
		r.PlanningTimes = result.PlanningTimes
		r.BasePitches = result.BasePitches
	}
	return r
}

func (r *Report) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(r.OperativeConfig)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "goal_state=%v\n", r.GoalState)
	fmt.Fprintf(&sb, "nb_timesteps=%d\n", r.NbTimesteps)
	for _, shape := range r.Shapes {
		sb.WriteString(shape.String())
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	if r.PlanningTimes != nil {
		sb.WriteString(metrics.PlanningTimeLine(r.PlanningTimes))
		sb.WriteString("\n")
	}
	if r.BasePitches != nil {
		sb.WriteString(metrics.BasePitchLine(r.BasePitches))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func (r *Report) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.String())
	return int64(n), err
}
