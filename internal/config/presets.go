package config

import "sort"

type Preset struct {
	Description string
	Apply       func(*Config)
}

var Presets = map[string]Preset{
	"default": {
		Description: "warm-started ProxQP over a 1 s horizon",
		Apply:       func(*Config) {},
	},
	"fast": {
		Description: "short horizon with loose HPIPM tolerances",
		Apply: func(c *Config) {
			c.Balance.Solver = "hpipm"
			c.Balance.NbMPCTimesteps = 20
			c.HPIPM.Mode = "speed"
			c.HPIPM.EpsAbs = 1e-2
		},
	},
	"accurate": {
		Description: "tight ProxQP tolerances with preconditioner updates",
		Apply: func(c *Config) {
			c.ProxQP.EpsAbs = 1e-6
			c.ProxQP.EpsRel = 1e-6
			c.ProxQP.UpdatePreconditioner = true
		},
	},
	"benchmark": {
		Description: "simulated run of 1000 steps recording planning times",
		Apply: func(c *Config) {
			c.Balance.NbEnvSteps = 1000
			c.Spine.Kind = "sim"
			c.Spine.RealTime = false
		},
	},
	"cold-start": {
		Description: "solve every QP from scratch without warm start",
		Apply: func(c *Config) {
			c.Balance.Solver = "proxqp"
			c.Balance.WarmStart = false
		},
	},
	"rebuild": {
		Description: "rebuild the full MPC problem at every step",
		Apply: func(c *Config) {
			c.Balance.Solver = "proxqp"
			c.Balance.RebuildQPEveryTime = true
		},
	},
	"lqr": {
		Description: "infinite-horizon LQR baseline, no QP solver",
		Apply: func(c *Config) {
			c.Balance.Controller = "lqr"
		},
	},
}

// GetPreset returns the default configuration modified by a preset, or nil
// when the preset does not exist.
func GetPreset(name string) *Config {
	preset, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	preset.Apply(cfg)
	return cfg
}

// ApplyPreset modifies cfg in place and reports whether the preset exists.
func ApplyPreset(cfg *Config, name string) bool {
	preset, ok := Presets[name]
	if ok {
		preset.Apply(cfg)
	}
	return ok
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
