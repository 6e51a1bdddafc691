package viz

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/stephane-caron/proxqp-balancer/internal/balancer"
	"github.com/stephane-caron/proxqp-balancer/internal/mpc"
	"github.com/stephane-caron/proxqp-balancer/internal/physics"
)

const (
	canvasWidth     = 36
	canvasHeight    = 12
	graphWidth      = 50
	graphHeight     = 10
	historyCapacity = 200
	DefaultFPS      = 30
)

// Signal is a component of the predicted trajectory.
type Signal int

const (
	SignalPitch Signal = iota
	SignalPosition
	SignalAccel
	nbSignals
)

func (s Signal) String() string {
	switch s {
	case SignalPitch:
		return "base pitch [rad]"
	case SignalPosition:
		return "ground position [m]"
	case SignalAccel:
		return "ground acceleration [m/s²]"
	}
	return "unknown"
}

// Frame is what the balance loop hands to the display for one step.
type Frame struct {
	Step balancer.Step

	// Predicted trajectories over the receding horizon, empty when the
	// controller returned no plan.
	PredictedPitch    []float64
	PredictedPosition []float64
	PredictedAccel    []float64
}

// NewFrame extracts the predicted trajectory of plan.
func NewFrame(step balancer.Step, plan *mpc.Plan) Frame {
	f := Frame{Step: step}
	if plan == nil || plan.IsEmpty() {
		return f
	}
	states := plan.States()
	n, _ := states.Dims()
	f.PredictedPitch = make([]float64, n)
	f.PredictedPosition = make([]float64, n)
	for k := 0; k < n; k++ {
		f.PredictedPitch[k] = states.At(k, physics.BasePitch)
		f.PredictedPosition[k] = states.At(k, physics.GroundPosition)
	}
	inputs := plan.Inputs()
	m, _ := inputs.Dims()
	f.PredictedAccel = make([]float64, m)
	for k := 0; k < m; k++ {
		f.PredictedAccel[k] = inputs.At(k, 0)
	}
	return f
}

func (f Frame) series(s Signal) []float64 {
	switch s {
	case SignalPosition:
		return f.PredictedPosition
	case SignalAccel:
		return f.PredictedAccel
	}
	return f.PredictedPitch
}

type FrameMsg Frame

// DoneMsg tells the display that the balance loop returned.
type DoneMsg struct{ Err error }

// Model is the Bubble Tea model of the live plot.
type Model struct {
	title     string
	nbSteps   int
	frame     Frame
	hasFrame  bool
	frozen    bool
	signal    Signal
	pitches   []float64
	planTimes []float64
	failures  int
	done      bool
	err       error
	canvas    *Canvas
	onQuit    func()
}

func NewModel(title string, nbSteps int, onQuit func()) Model {
	return Model{
		title:     title,
		nbSteps:   nbSteps,
		pitches:   make([]float64, 0, historyCapacity),
		planTimes: make([]float64, 0, historyCapacity),
		canvas:    NewCanvas(canvasWidth, canvasHeight),
		onQuit:    onQuit,
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		case " ", "space":
			m.frozen = !m.frozen
		case "p":
			m.signal = (m.signal + 1) % nbSignals
		}
	case FrameMsg:
		m.push(Frame(msg))
	case DoneMsg:
		m.done = true
		m.err = msg.Err
	}
	return m, nil
}

func (m *Model) push(f Frame) {
	m.pitches = appendBounded(m.pitches, f.Step.Observation.BasePitch)
	m.planTimes = appendBounded(m.planTimes, f.Step.PlanningTime.Seconds()*1e3)
	if !f.Step.Found {
		m.failures++
	}
	if m.frozen {
		return
	}
	m.frame = f
	m.hasFrame = true
}

func appendBounded(values []float64, v float64) []float64 {
	if len(values) == historyCapacity {
		copy(values, values[1:])
		values = values[:historyCapacity-1]
	}
	return append(values, v)
}

func (m Model) View() string {
	header := titleStyle.Render(m.title) + "  " + m.status()
	if !m.hasFrame {
		return header + "\n\n" + hintStyle.Render("waiting for the first step...") + "\n"
	}
	left := panelStyle.Render(m.drawRobot())
	right := panelStyle.Render(m.stats())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return strings.Join([]string{header, body, m.prediction(), m.help()}, "\n") + "\n"
}

func (m Model) status() string {
	switch {
	case m.err != nil:
		return statusFailed.Render("ERROR " + m.err.Error())
	case m.done:
		return statusFrozen.Render("DONE")
	case m.frozen:
		return statusFrozen.Render("FROZEN")
	}
	return statusRunning.Render("RUNNING")
}

func (m Model) drawRobot() string {
	c := m.canvas
	c.Clear()
	obs := m.frame.Step.Observation
	ground := c.DotHeight() - 2
	c.DrawLine(0, ground, c.DotWidth()-1, ground)

	// The ground position wraps around so the robot stays in view.
	span := 2.0
	pos := math.Mod(obs.GroundPosition+span/2, span)
	if pos < 0 {
		pos += span
	}
	wheelX := int(pos / span * float64(c.DotWidth()))
	const wheelRadius = 3
	wheelY := ground - wheelRadius
	c.DrawCircle(wheelX, wheelY, wheelRadius)

	leg := float64(c.DotHeight()) * 0.7
	topX := wheelX + int(leg*math.Sin(obs.BasePitch))
	topY := wheelY - int(leg*math.Cos(obs.BasePitch))
	c.DrawLine(wheelX, wheelY, topX, topY)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			c.Set(topX+dx, topY+dy)
		}
	}
	return c.String()
}

func (m Model) stats() string {
	step := m.frame.Step
	obs := step.Observation
	rows := []struct {
		label string
		value string
	}{
		{"step", fmt.Sprintf("%d", step.Index)},
		{"time", fmt.Sprintf("%.2f s", obs.Time)},
		{"pitch", fmt.Sprintf("%+.4f rad", obs.BasePitch)},
		{"position", fmt.Sprintf("%+.3f m", obs.GroundPosition)},
		{"velocity", fmt.Sprintf("%+.3f m/s", obs.GroundVelocity)},
		{"command", fmt.Sprintf("%+.3f m/s", step.CommandedVelocity)},
		{"accel", fmt.Sprintf("%+.3f m/s²", step.GroundAccel)},
		{"planning", fmt.Sprintf("%.3f ms", step.PlanningTime.Seconds()*1e3)},
		{"failures", fmt.Sprintf("%d", m.failures)},
		{"contact", fmt.Sprintf("%t", obs.FloorContact)},
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(labelStyle.Render(r.label) + valueStyle.Render(r.value) + "\n")
	}
	b.WriteString(labelStyle.Render("pitch") + Sparkline(m.pitches, 30, true) + "\n")
	b.WriteString(labelStyle.Render("planning") + Sparkline(m.planTimes, 30, true))
	if m.nbSteps > 0 {
		b.WriteString("\n" + labelStyle.Render("progress") + ProgressBar(float64(step.Index+1)/float64(m.nbSteps), 30))
	}
	return b.String()
}

func (m Model) prediction() string {
	values := m.frame.series(m.signal)
	if len(values) < 2 {
		return hintStyle.Render("no prediction for this step")
	}
	graph := asciigraph.Plot(values,
		asciigraph.Height(graphHeight),
		asciigraph.Width(graphWidth),
		asciigraph.Caption("predicted "+m.signal.String()),
	)
	return graphStyle.Render(graph)
}

func (m Model) help() string {
	return hintStyle.Render("space: freeze • p: next signal • q: quit")
}

// LivePlot forwards balance loop steps to a Bubble Tea program, at most
// fps times per second.
type LivePlot struct {
	program  *tea.Program
	interval time.Duration

	mu        sync.Mutex
	lastFrame time.Time
	nbDropped int
}

// NewLivePlot creates the display. onQuit runs when the user quits, which
// is how the caller learns to stop the balance loop.
func NewLivePlot(title string, nbSteps, fps int, onQuit func(), opts ...tea.ProgramOption) *LivePlot {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &LivePlot{
		program:  tea.NewProgram(NewModel(title, nbSteps, onQuit), opts...),
		interval: time.Second / time.Duration(fps),
	}
}

// OnStep implements balancer.Observer.
func (l *LivePlot) OnStep(step balancer.Step, plan *mpc.Plan) {
	l.mu.Lock()
	now := time.Now()
	if now.Sub(l.lastFrame) < l.interval {
		l.nbDropped++
		l.mu.Unlock()
		return
	}
	l.lastFrame = now
	l.mu.Unlock()
	l.program.Send(FrameMsg(NewFrame(step, plan)))
}

// Run blocks until the user quits or Quit is called.
func (l *LivePlot) Run() error {
	_, err := l.program.Run()
	return err
}

// Done marks the balance loop as finished without closing the display.
func (l *LivePlot) Done(err error) {
	l.program.Send(DoneMsg{Err: err})
}

func (l *LivePlot) Quit() {
	l.program.Quit()
}

// Dropped counts the steps skipped by frame rate limiting.
func (l *LivePlot) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nbDropped
}
