// Package config loads the siphon YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top level of siphon.yaml.
type Config struct {
	Device    string          `yaml:"device" validate:"required,device"`
	Opset     int64           `yaml:"opset" validate:"min=1,max=21"`
	Engine    EngineConfig    `yaml:"engine"`
	Optimize  OptimizeConfig  `yaml:"optimize"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig selects the external engine.
type EngineConfig struct {
	Kind    string   `yaml:"kind" validate:"oneof=native bridge"`
	Command string   `yaml:"command" validate:"required_if=Kind bridge"`
	Args    []string `yaml:"args"`
}

type OptimizeConfig struct {
	Enabled              bool `yaml:"enabled"`
	LegacyInitComparison bool `yaml:"legacy_init_comparison"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// File receives a copy of every record. Empty logs to stderr only.
	File string `yaml:"file"`
}

type TelemetryConfig struct {
	TraceFile   string `yaml:"trace_file"`
	MetricsFile string `yaml:"metrics_file"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Device: "cpu",
		Opset:  9,
		Engine: EngineConfig{Kind: "native"},
		Log:    LogConfig{Level: "info", File: "siphon.log"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("device", func(fl validator.FieldLevel) bool {
		return validDevice(fl.Field().String())
	})
	return v
}

func validDevice(s string) bool {
	switch s {
	case "cpu", "cuda", "gpu":
		return true
	}
	var id int
	_, err := fmt.Sscanf(s, "cuda:%d", &id)
	return err == nil && id >= 0 && fmt.Sprintf("cuda:%d", id) == s
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("invalid config field %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}
