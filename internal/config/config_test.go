package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGin = `# Tuning of the balancer
balance.nb_env_steps = 1000
balance.rebuild_qp_every_time = False
balance.warm_start = True
balance.solver = "qpalm"  # trailing comment

ProxQPWorkspace.eps_abs = 1e-3
ProxQPWorkspace.update_preconditioner = true

HPIPMWorkspace.mode = 'robust'
QPALMWorkspace.eps_rel = 0.0
`

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mpc", cfg.Balance.Controller)
	assert.Equal(t, 0.02, cfg.Balance.MPCSamplingPeriod)
	assert.Equal(t, 50, cfg.Balance.NbMPCTimesteps)
	assert.True(t, cfg.Balance.WarmStart)
	assert.Equal(t, 200.0, cfg.Spine.Frequency)
}

func TestParseGin(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ParseGin(sampleGin, cfg))

	assert.Equal(t, 1000, cfg.Balance.NbEnvSteps)
	assert.False(t, cfg.Balance.RebuildQPEveryTime)
	assert.Equal(t, "qpalm", cfg.Balance.Solver)
	assert.True(t, cfg.ProxQP.UpdatePreconditioner)
	assert.Equal(t, "robust", cfg.HPIPM.Mode)
	assert.Equal(t, 0.0, cfg.QPALM.EpsRel)
}

func TestParseGinErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
		msg  string
	}{
		{"unknown scope", "balance.warm_start = True\nFooWorkspace.eps_abs = 1", 2, "unknown scope"},
		{"unknown key", "ProxQPWorkspace.mode = 'speed'", 1, "unknown parameter"},
		{"no scope", "eps_abs = 1e-3", 1, "no scope"},
		{"no value", "\n\nbalance.warm_start", 3, "expected"},
		{"bad bool", "balance.warm_start = yes", 1, "boolean"},
		{"bad int", "balance.nb_env_steps = 1.5", 1, "integer"},
		{"unquoted string", "HPIPMWorkspace.mode = robust", 1, "quoted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseGin(tt.text, DefaultConfig())
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.line, perr.Line)
			assert.Contains(t, perr.Msg, tt.msg)
		})
	}
}

func TestOperativeString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Balance.NbEnvSteps = 42
	cfg.HPIPM.Mode = "speed"
	out := cfg.OperativeString()

	assert.Contains(t, out, "# Parameters for HPIPMWorkspace:\n# ====")
	assert.Contains(t, out, "balance.nb_env_steps = 42\n")
	assert.Contains(t, out, "balance.warm_start = True\n")
	assert.Contains(t, out, "HPIPMWorkspace.mode = 'speed'\n")

	// scopes are sorted
	assert.Less(t, strings.Index(out, "HPIPMWorkspace"), strings.Index(out, "ProxQPWorkspace"))
	assert.Less(t, strings.Index(out, "ProxQPWorkspace"), strings.Index(out, "# Parameters for balance"))

	parsed := DefaultConfig()
	require.NoError(t, ParseGin(out, parsed))
	assert.Equal(t, cfg, parsed)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	ginPath := filepath.Join(dir, "config.gin")
	require.NoError(t, os.WriteFile(ginPath, []byte(sampleGin), 0644))
	cfg, err := Load(ginPath)
	require.NoError(t, err)
	assert.Equal(t, "qpalm", cfg.Balance.Solver)

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, Save(yamlPath, cfg))
	loaded, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(dir, "missing.gin"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvName("balance", "nb_env_steps"), "250")
	t.Setenv("BALANCER_PROXQP_UPDATE_PRECONDITIONER", "True")
	t.Setenv("BALANCER_HPIPM_MODE", "speed_abs")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Balance.NbEnvSteps)
	assert.True(t, cfg.ProxQP.UpdatePreconditioner)
	assert.Equal(t, "speed_abs", cfg.HPIPM.Mode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"controller", func(c *Config) { c.Balance.Controller = "neural" }},
		{"solver", func(c *Config) { c.Balance.Solver = "quadprog" }},
		{"hpipm mode", func(c *Config) { c.HPIPM.Mode = "fastest" }},
		{"horizon", func(c *Config) { c.Balance.NbMPCTimesteps = 0 }},
		{"negative steps", func(c *Config) { c.Balance.NbEnvSteps = -1 }},
		{"integrator", func(c *Config) { c.Spine.Integrator = "leapfrog" }},
		{"sampling period", func(c *Config) { c.Balance.MPCSamplingPeriod = 0.001 }},
		{"can interface", func(c *Config) { c.Spine.Kind = "can"; c.Spine.CANInterface = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestQPSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProxQP.UpdatePreconditioner = true
	cfg.HPIPM.Mode = "robust"
	cfg.OSQP.EpsRel = 1e-4

	s := cfg.QPSettings(nil)
	assert.True(t, s.ProxQP.UpdatePreconditioner)
	assert.Equal(t, "robust", s.HPIPM.Mode)
	assert.Equal(t, 1e-4, s.OSQP.EpsRel)
	assert.Equal(t, cfg.QPALM.EpsAbs, s.QPALM.EpsAbs)
}

func TestSimConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spine.MaxSteps = 300
	sim := cfg.SimConfig()
	assert.Equal(t, 300, sim.MaxSteps)
	assert.Equal(t, cfg.Spine.Frequency, sim.Frequency)
	assert.Equal(t, "rk4", sim.Integrator)
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("fast")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Balance.Solver != "hpipm" {
		t.Errorf("expected solver hpipm, got %s", cfg.Balance.Solver)
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	if cfg := GetPreset("nonexistent"); cfg != nil {
		t.Error("expected nil for nonexistent preset")
	}
	if ApplyPreset(DefaultConfig(), "nonexistent") {
		t.Error("expected false for nonexistent preset")
	}
}

func TestPresetsAreValid(t *testing.T) {
	presets := ListPresets()
	if len(presets) != len(Presets) {
		t.Fatalf("expected %d presets, got %d", len(Presets), len(presets))
	}
	for i, name := range presets {
		if i > 0 && presets[i-1] >= name {
			t.Errorf("presets not sorted: %v", presets)
		}
		if err := GetPreset(name).Validate(); err != nil {
			t.Errorf("preset %s: %v", name, err)
		}
	}
}

func TestSet(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Set("balance.terminal_cost_weight", "2.5"))
	assert.Equal(t, 2.5, cfg.Balance.TerminalCostWeight)
	require.NoError(t, cfg.Set("spine.kind", "'grpc'"))
	assert.Equal(t, "grpc", cfg.Spine.Kind)

	err := cfg.Set("balance.nope", "1")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	err = cfg.Set("balance.nb_env_steps", "many")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDiff(t *testing.T) {
	a := DefaultConfig()
	b := a.Clone()
	assert.Empty(t, Diff(a, b))

	ApplyPreset(b, "fast")
	assert.Equal(t, []string{
		"HPIPMWorkspace.eps_abs",
		"HPIPMWorkspace.mode",
		"balance.nb_mpc_timesteps",
		"balance.solver",
	}, Diff(a, b))
}

func TestValidateSamplingPeriodOnRemoteSpine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Balance.MPCSamplingPeriod = 0.001
	cfg.Spine.Kind = "grpc"
	assert.NoError(t, cfg.Validate(), "the remote spine period is only known once connected")
}
