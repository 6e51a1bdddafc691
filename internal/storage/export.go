package storage

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
)

type ExportData struct {
	Metadata      RunMetadata `json:"metadata"`
	Times         []float64   `json:"times"`
	States        [][]float64 `json:"states"`
	GroundAccels  []float64   `json:"ground_accels"`
	Commands      []float64   `json:"commanded_velocities"`
	BasePitches   []float64   `json:"base_pitches"`
	PlanningTimes []float64   `json:"planning_times"`
}

// Export gathers everything stored for a run.
func (s *Store) Export(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	trace, err := s.LoadTrace(runID)
	if err != nil {
		return nil, err
	}
	pitches, err := s.LoadBasePitches(runID)
	if err != nil {
		return nil, err
	}
	times, err := s.LoadPlanningTimes(runID)
	if err != nil {
		return nil, err
	}

	data := &ExportData{
		Metadata:      *meta,
		Times:         make([]float64, len(trace)),
		States:        make([][]float64, len(trace)),
		GroundAccels:  make([]float64, len(trace)),
		Commands:      make([]float64, len(trace)),
		BasePitches:   pitches,
		PlanningTimes: times,
	}
	for i, step := range trace {
		obs := step.Observation
		data.Times[i] = obs.Time
		data.States[i] = []float64{obs.GroundPosition, obs.BasePitch, obs.GroundVelocity, obs.BaseAngularVelocity}
		data.GroundAccels[i] = step.GroundAccel
		data.Commands[i] = step.CommandedVelocity
	}
	return data, nil
}

func ExportJSON(w io.Writer, data *ExportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// ExportJSONFile writes to path, or to stdout when path is empty.
func ExportJSONFile(path string, data *ExportData) error {
	if path == "" {
		return ExportJSON(os.Stdout, data)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ExportJSON(file, data)
}

// ExportCSV copies the trace of a run to w.
func (s *Store) ExportCSV(w io.Writer, runID string) error {
	file, err := os.Open(filepath.Join(s.Dir(runID), TraceFile))
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}
