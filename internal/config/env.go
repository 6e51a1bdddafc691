package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "BALANCER"

// ApplyEnv overrides cfg with BALANCER_<SECTION>_<KEY> environment
// variables, for instance BALANCER_BALANCE_NB_ENV_STEPS=1000.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so register the current
	// values as defaults.
	for _, b := range bindings(cfg) {
		v.SetDefault(b.section+"."+b.key, b.value.Interface())
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("%w: environment overrides: %v", ErrInvalidConfig, err)
	}
	return nil
}

// EnvName returns the environment variable overriding a parameter.
func EnvName(section, key string) string {
	return EnvPrefix + "_" + strings.ToUpper(section+"_"+key)
}
