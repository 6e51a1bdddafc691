package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stephane-caron/proxqp-balancer/internal/qp"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

const (
	DefaultMaxGroundAccel       = 10.0
	DefaultMPCSamplingPeriod    = 0.02
	DefaultNbMPCTimesteps       = 50
	DefaultPendulumLength       = 0.4
	DefaultStageInputCostWeight = 1e-3
	DefaultStageStateCostWeight = 1e-3
	DefaultTerminalCostWeight   = 1.0
	DefaultSpineFrequency       = 200.0
	DefaultFallPitch            = 1.0
	DefaultSpineAddress         = "localhost:9090"
	DefaultSolverTolerance      = 1e-3
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the operative configuration of a balancer run. The gin tag of
// each top-level field is the scope name used in gin files.
type Config struct {
	Balance BalanceConfig `yaml:"balance" mapstructure:"balance" gin:"balance"`
	ProxQP  ProxQPConfig  `yaml:"proxqp" mapstructure:"proxqp" gin:"ProxQPWorkspace"`
	QPALM   QPALMConfig   `yaml:"qpalm" mapstructure:"qpalm" gin:"QPALMWorkspace"`
	HPIPM   HPIPMConfig   `yaml:"hpipm" mapstructure:"hpipm" gin:"HPIPMWorkspace"`
	OSQP    OSQPConfig    `yaml:"osqp" mapstructure:"osqp" gin:"OSQPWorkspace"`
	Spine   SpineConfig   `yaml:"spine" mapstructure:"spine" gin:"spine"`
}

type BalanceConfig struct {
	Controller           string  `yaml:"controller" mapstructure:"controller" validate:"oneof=mpc pid lqr none"`
	MaxGroundAccel       float64 `yaml:"max_ground_accel" mapstructure:"max_ground_accel" validate:"gt=0"`
	MPCSamplingPeriod    float64 `yaml:"mpc_sampling_period" mapstructure:"mpc_sampling_period" validate:"gt=0"`
	NbEnvSteps           int     `yaml:"nb_env_steps" mapstructure:"nb_env_steps" validate:"gte=0"`
	NbMPCTimesteps       int     `yaml:"nb_mpc_timesteps" mapstructure:"nb_mpc_timesteps" validate:"gte=1"`
	PendulumLength       float64 `yaml:"pendulum_length" mapstructure:"pendulum_length" validate:"gt=0"`
	RebuildQPEveryTime   bool    `yaml:"rebuild_qp_every_time" mapstructure:"rebuild_qp_every_time"`
	ShowLivePlot         bool    `yaml:"show_live_plot" mapstructure:"show_live_plot"`
	Solver               string  `yaml:"solver" mapstructure:"solver" validate:"required"`
	StageInputCostWeight float64 `yaml:"stage_input_cost_weight" mapstructure:"stage_input_cost_weight" validate:"gt=0"`
	StageStateCostWeight float64 `yaml:"stage_state_cost_weight" mapstructure:"stage_state_cost_weight" validate:"gte=0"`
	TerminalCostWeight   float64 `yaml:"terminal_cost_weight" mapstructure:"terminal_cost_weight" validate:"gte=0"`
	WarmStart            bool    `yaml:"warm_start" mapstructure:"warm_start"`
}

type ProxQPConfig struct {
	EpsAbs               float64 `yaml:"eps_abs" mapstructure:"eps_abs" validate:"gt=0"`
	EpsRel               float64 `yaml:"eps_rel" mapstructure:"eps_rel" validate:"gte=0"`
	UpdatePreconditioner bool    `yaml:"update_preconditioner" mapstructure:"update_preconditioner"`
	Verbose              bool    `yaml:"verbose" mapstructure:"verbose"`
}

type QPALMConfig struct {
	EpsAbs  float64 `yaml:"eps_abs" mapstructure:"eps_abs" validate:"gt=0"`
	EpsRel  float64 `yaml:"eps_rel" mapstructure:"eps_rel" validate:"gte=0"`
	Verbose bool    `yaml:"verbose" mapstructure:"verbose"`
}

type HPIPMConfig struct {
	Mode   string  `yaml:"mode" mapstructure:"mode" validate:"oneof=speed_abs speed balance robust"`
	EpsAbs float64 `yaml:"eps_abs" mapstructure:"eps_abs" validate:"gt=0"`
}

type OSQPConfig struct {
	EpsAbs  float64 `yaml:"eps_abs" mapstructure:"eps_abs" validate:"gt=0"`
	EpsRel  float64 `yaml:"eps_rel" mapstructure:"eps_rel" validate:"gte=0"`
	Verbose bool    `yaml:"verbose" mapstructure:"verbose"`
}

// SpineConfig describes the robot interface the balancer closes its loop
// against: the in-process simulator, a remote spine over gRPC, or a CAN bus.
type SpineConfig struct {
	Kind            string  `yaml:"kind" mapstructure:"kind" validate:"oneof=sim grpc can"`
	Frequency       float64 `yaml:"frequency" mapstructure:"frequency" validate:"gt=0"`
	PendulumLength  float64 `yaml:"pendulum_length" mapstructure:"pendulum_length" validate:"gt=0"`
	MaxGroundAccel  float64 `yaml:"max_ground_accel" mapstructure:"max_ground_accel" validate:"gt=0"`
	FallPitch       float64 `yaml:"fall_pitch" mapstructure:"fall_pitch" validate:"gt=0"`
	MaxSteps        int     `yaml:"max_steps" mapstructure:"max_steps" validate:"gte=0"`
	InitialPitch    float64 `yaml:"initial_pitch" mapstructure:"initial_pitch"`
	Integrator      string  `yaml:"integrator" mapstructure:"integrator" validate:"oneof=rk4 euler"`
	RealTime        bool    `yaml:"real_time" mapstructure:"real_time"`
	FrequencyChecks bool    `yaml:"frequency_checks" mapstructure:"frequency_checks"`
	Scenario        string  `yaml:"scenario" mapstructure:"scenario"`
	Address         string  `yaml:"address" mapstructure:"address" validate:"required_if=Kind grpc"`
	CANInterface    string  `yaml:"can_interface" mapstructure:"can_interface" validate:"required_if=Kind can"`
}

func DefaultConfig() *Config {
	return &Config{
		Balance: BalanceConfig{
			Controller:           "mpc",
			MaxGroundAccel:       DefaultMaxGroundAccel,
			MPCSamplingPeriod:    DefaultMPCSamplingPeriod,
			NbMPCTimesteps:       DefaultNbMPCTimesteps,
			PendulumLength:       DefaultPendulumLength,
			Solver:               "proxqp",
			StageInputCostWeight: DefaultStageInputCostWeight,
			StageStateCostWeight: DefaultStageStateCostWeight,
			TerminalCostWeight:   DefaultTerminalCostWeight,
			WarmStart:            true,
		},
		ProxQP: ProxQPConfig{EpsAbs: DefaultSolverTolerance},
		QPALM:  QPALMConfig{EpsAbs: DefaultSolverTolerance},
		HPIPM:  HPIPMConfig{Mode: qp.ModeBalance, EpsAbs: DefaultSolverTolerance},
		OSQP:   OSQPConfig{EpsAbs: DefaultSolverTolerance},
		Spine: SpineConfig{
			Kind:            "sim",
			Frequency:       DefaultSpineFrequency,
			PendulumLength:  DefaultPendulumLength,
			MaxGroundAccel:  DefaultMaxGroundAccel,
			FallPitch:       DefaultFallPitch,
			InitialPitch:    0.05,
			Integrator:      "rk4",
			FrequencyChecks: true,
			Address:         DefaultSpineAddress,
			CANInterface:    "can0",
		},
	}
}

// Load reads a gin or YAML file on top of the defaults, then applies
// BALANCER_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadInto(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto applies the parameters of a gin or YAML file onto cfg. The
// format follows the file extension.
func LoadInto(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := ParseGin(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

func Save(path string, cfg *Config) error {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return err
		}
	default:
		data = []byte(cfg.OperativeString())
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := qp.Resolve(c.Balance.Solver); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	// Remote spines report their own period, checked when the loop starts.
	if c.Spine.Kind == "sim" && c.Balance.MPCSamplingPeriod < 1/c.Spine.Frequency {
		return fmt.Errorf("%w: mpc_sampling_period %g is shorter than the spine period %g",
			ErrInvalidConfig, c.Balance.MPCSamplingPeriod, 1/c.Spine.Frequency)
	}
	return nil
}

// QPSettings maps the workspace scopes onto solver settings.
func (c *Config) QPSettings(logger *slog.Logger) qp.Settings {
	return qp.Settings{
		ProxQP: qp.ProxQPSettings{
			EpsAbs:               c.ProxQP.EpsAbs,
			EpsRel:               c.ProxQP.EpsRel,
			UpdatePreconditioner: c.ProxQP.UpdatePreconditioner,
			Verbose:              c.ProxQP.Verbose,
		},
		QPALM: qp.QPALMSettings{
			EpsAbs:  c.QPALM.EpsAbs,
			EpsRel:  c.QPALM.EpsRel,
			Verbose: c.QPALM.Verbose,
		},
		HPIPM: qp.HPIPMSettings{
			Mode:   c.HPIPM.Mode,
			EpsAbs: c.HPIPM.EpsAbs,
		},
		OSQP: qp.OSQPSettings{
			EpsAbs:  c.OSQP.EpsAbs,
			EpsRel:  c.OSQP.EpsRel,
			Verbose: c.OSQP.Verbose,
		},
		Logger: logger,
	}
}

func (c *Config) SimConfig() spine.SimConfig {
	return spine.SimConfig{
		Frequency:       c.Spine.Frequency,
		PendulumLength:  c.Spine.PendulumLength,
		MaxGroundAccel:  c.Spine.MaxGroundAccel,
		FallPitch:       c.Spine.FallPitch,
		MaxSteps:        c.Spine.MaxSteps,
		InitialPitch:    c.Spine.InitialPitch,
		Integrator:      c.Spine.Integrator,
		RealTime:        c.Spine.RealTime,
		FrequencyChecks: c.Spine.FrequencyChecks,
	}
}

func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
