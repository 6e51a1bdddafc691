package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stephane-caron/proxqp-balancer/internal/balancer"
	"github.com/stephane-caron/proxqp-balancer/internal/config"
	"github.com/stephane-caron/proxqp-balancer/internal/metrics"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

const (
	MetadataFile      = "metadata.json"
	TraceFile         = "trace.csv"
	BasePitchesFile   = "base_pitches.csv"
	PlanningTimesFile = "planning_times.csv"
	ConfigFile        = "config.gin"
)

var ErrRunNotFound = errors.New("run not found")

var traceHeader = [...]string{
	"time",
	"ground_position",
	"base_pitch",
	"ground_velocity",
	"base_angular_velocity",
	"floor_contact",
	"ground_accel",
	"commanded_velocity",
	"planning_time_ms",
	"found",
}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID               string             `json:"id"`
	Timestamp        time.Time          `json:"timestamp"`
	Controller       string             `json:"controller"`
	Solver           string             `json:"solver"`
	NbMPCSteps       int                `json:"nb_mpc_timesteps"`
	SamplingTime     float64            `json:"mpc_sampling_period"`
	WarmStart        bool               `json:"warm_start"`
	Rebuild          bool               `json:"rebuild_qp_every_time"`
	Steps            int                `json:"steps"`
	Resets           int                `json:"resets"`
	Scenario         string             `json:"scenario,omitempty"`
	PlanningTimes    metrics.Summary    `json:"planning_times"`
	BasePitches      metrics.Summary    `json:"base_pitch_magnitudes"`
	PitchOscillation float64            `json:"pitch_oscillation_hz"`
	Metrics          map[string]float64 `json:"metrics"`
}

// Save writes a run directory and returns its identifier.
func (s *Store) Save(cfg *config.Config, result *balancer.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("%s_%s_%s", cfg.Balance.Solver, now.Format("20060102-150405"), uuid.NewString()[:8])
	runDir := s.Dir(runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:               runID,
		Timestamp:        now,
		Controller:       cfg.Balance.Controller,
		Solver:           cfg.Balance.Solver,
		NbMPCSteps:       cfg.Balance.NbMPCTimesteps,
		SamplingTime:     cfg.Balance.MPCSamplingPeriod,
		WarmStart:        cfg.Balance.WarmStart,
		Rebuild:          cfg.Balance.RebuildQPEveryTime,
		Steps:            result.Steps,
		Resets:           result.Resets,
		Scenario:         cfg.Spine.Scenario,
		PlanningTimes:    metrics.Summarize(result.PlanningTimes),
		BasePitches:      metrics.Summarize(metrics.Abs(result.BasePitches)),
		PitchOscillation: metrics.DominantFrequency(result.BasePitches, 1/cfg.Spine.Frequency),
		Metrics:          result.Metrics,
	}
	if err := writeJSON(filepath.Join(runDir, MetadataFile), meta); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, ConfigFile), []byte(cfg.OperativeString()), 0644); err != nil {
		return "", err
	}
	if err := writeSeries(filepath.Join(runDir, BasePitchesFile), "base_pitch", result.BasePitches); err != nil {
		return "", err
	}
	if err := writeSeries(filepath.Join(runDir, PlanningTimesFile), "planning_time", result.PlanningTimes); err != nil {
		return "", err
	}
	if err := writeTrace(filepath.Join(runDir, TraceFile), result.Trace); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func writeSeries(path, name string, values []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{name}); err != nil {
		return err
	}
	for _, v := range values {
		if err := w.Write([]string{formatFloat(v)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeTrace(path string, trace []balancer.Step) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(traceHeader[:]); err != nil {
		return err
	}
	for _, step := range trace {
		obs := step.Observation
		row := []string{
			formatFloat(obs.Time),
			formatFloat(obs.GroundPosition),
			formatFloat(obs.BasePitch),
			formatFloat(obs.GroundVelocity),
			formatFloat(obs.BaseAngularVelocity),
			strconv.FormatBool(obs.FloorContact),
			formatFloat(step.GroundAccel),
			formatFloat(step.CommandedVelocity),
			formatFloat(float64(step.PlanningTime) / float64(time.Millisecond)),
			strconv.FormatBool(step.Found),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the metadata of stored runs, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) LoadBasePitches(runID string) ([]float64, error) {
	return readSeries(filepath.Join(s.Dir(runID), BasePitchesFile))
}

// LoadPlanningTimes returns planning times in seconds.
func (s *Store) LoadPlanningTimes(runID string) ([]float64, error) {
	return readSeries(filepath.Join(s.Dir(runID), PlanningTimesFile))
}

func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.Dir(runID), ConfigFile))
}

func readRecords(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, path)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

func readSeries(path string) ([]float64, error) {
	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(records))
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), i+2, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// LoadTrace reads back the per-step trace of a run.
func (s *Store) LoadTrace(runID string) ([]balancer.Step, error) {
	path := filepath.Join(s.Dir(runID), TraceFile)
	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}

	trace := make([]balancer.Step, 0, len(records))
	for i, record := range records {
		if len(record) != len(traceHeader) {
			return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", TraceFile, i+2, len(traceHeader), len(record))
		}
		var nums [len(traceHeader)]float64
		for j, field := range record {
			if j == 5 || j == 9 {
				continue
			}
			if nums[j], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", TraceFile, i+2, err)
			}
		}
		trace = append(trace, balancer.Step{
			Index: i,
			Observation: spine.Observation{
				Time:                nums[0],
				GroundPosition:      nums[1],
				BasePitch:           nums[2],
				GroundVelocity:      nums[3],
				BaseAngularVelocity: nums[4],
				FloorContact:        record[5] == "true",
			},
			GroundAccel:       nums[6],
			CommandedVelocity: nums[7],
			PlanningTime:      time.Duration(nums[8] * float64(time.Millisecond)),
			Found:             record[9] == "true",
		})
	}
	return trace, nil
}
