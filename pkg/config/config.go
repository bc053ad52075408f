// Package config loads and validates the set of ModelConfig values the
// registry is started with.
//
// Grounded on SnapdragonPartners-maestro/pkg/config/config.go for the shape
// of a model's rate-limit configuration (its Model struct's
// MaxTPM/MaxConnections/DailyBudget fields are the ancestor of
// LimiterConfig's per-kind entries here), enriched with
// github.com/spf13/viper (as used for config loading in
// _examples/RedClaus-cortex and _examples/lookatitude-beluga-ai) for
// YAML/env-driven loading and github.com/go-playground/validator/v10 (as
// used in _examples/lookatitude-beluga-ai) for declarative struct
// validation.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Ganzzi/llm-queue/pkg/queue"
)

// File is the top-level shape of a models configuration file: a flat list
// of per-model rate-limiter sets.
type File struct {
	Models []queue.ModelConfig `yaml:"models" mapstructure:"models" validate:"required,min=1,dive"`
}

var validate = validator.New()

// secondsToDurationHookFunc lets a model's time_period be written either as
// a duration string ("60s", "24h" — the documented form, handled by
// mapstructure's own StringToTimeDurationHookFunc) or as a bare YAML number,
// which is interpreted as whole seconds. Without this hook, mapstructure
// decodes a bare number straight into time.Duration's underlying int64,
// so `time_period: 60` would silently become 60 nanoseconds instead of a
// minute.
func secondsToDurationHookFunc() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// Load reads a YAML configuration file from path (env var LLMQUEUE_ prefix
// overrides supported via viper) and validates it. A LimiterConfig's
// time_period field accepts either a duration string ("60s") or a bare
// number of seconds.
func Load(path string) ([]queue.ModelConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LLMQUEUE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var file File
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&file, decodeHook); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := Validate(file.Models); err != nil {
		return nil, err
	}
	return file.Models, nil
}

// Validate checks a set of ModelConfig values against their struct tags
// (required fields, positive limits, known kinds) and the cross-field
// invariant that every model carries at least one limiter and every
// model_id is unique.
func Validate(models []queue.ModelConfig) error {
	if len(models) == 0 {
		return fmt.Errorf("no models configured: %w", queue.ErrInvalidConfiguration)
	}
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if err := validate.Struct(m); err != nil {
			return fmt.Errorf("model %q: %w: %v", m.ModelID, queue.ErrInvalidConfiguration, err)
		}
		if seen[m.ModelID] {
			return fmt.Errorf("model %q: %w: duplicate model_id in config", m.ModelID, queue.ErrInvalidConfiguration)
		}
		seen[m.ModelID] = true
	}
	return nil
}
