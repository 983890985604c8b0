package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads a YAML parameter file at path, overlaying it onto
// Default(). An empty path returns the defaults unchanged, matching
// the teacher's options.go pattern of always having a usable
// defaultOptions().
func Load(path string) (Params, error) {
	params := Default()
	if path == "" {
		return params, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Params{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := v.Unmarshal(&params); err != nil {
		return Params{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return params, nil
}
