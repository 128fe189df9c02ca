// Package config loads YAML configuration files, expanding ${VAR}
// environment references before unmarshalling.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by config structs that can check themselves.
type Validator interface {
	Validate() error
}

// Load reads filename, expands environment variables in its raw text,
// and unmarshals the result into target. If target implements
// Validator, validation runs after unmarshalling.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}

	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config: validate %s: %w", filename, err)
		}
	}
	return nil
}

// LoadOptional behaves like Load but treats a missing file as empty:
// target keeps whatever defaults it already carries, and validation
// still runs.
func LoadOptional[T any](filename string, target *T) error {
	err := Load(filename, target)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if v, ok := any(target).(Validator); ok {
			if verr := v.Validate(); verr != nil {
				return fmt.Errorf("config: validate defaults: %w", verr)
			}
		}
		return nil
	}
	return err
}
