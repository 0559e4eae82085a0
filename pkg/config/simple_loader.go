package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. FRAMEPOOL_MEMORY_PRESSURE_THRESHOLD.
const EnvPrefix = "FRAMEPOOL"

// Load reads a YAML configuration file on top of the defaults and applies
// environment overrides. An empty path yields defaults plus environment.
func Load(filePath string) (*Config, error) {
	defaults, err := yaml.Marshal(NewDefault())
	if err != nil {
		return nil, fperrors.Wrap(err, fperrors.ErrorTypeConfig, "failed to marshal defaults")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	// Seeding viper with every default key makes AutomaticEnv see them all.
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fperrors.Wrap(err, fperrors.ErrorTypeConfig, "failed to seed defaults")
	}

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is supplied by the operator
		if err != nil {
			return nil, fperrors.Wrap(err, fperrors.ErrorTypeConfig, "failed to read config file").
				WithDetail("file", filePath)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fperrors.Wrap(err, fperrors.ErrorTypeConfig, "failed to parse YAML").
				WithDetail("file", filePath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := NewDefault()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fperrors.Wrap(err, fperrors.ErrorTypeConfig, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fperrors.Wrap(err, fperrors.ErrorTypeValidation, "invalid configuration")
	}

	return cfg, nil
}

// Save writes a configuration to a YAML file.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fperrors.Wrap(err, fperrors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fperrors.Wrap(err, fperrors.ErrorTypeConfig, "failed to write config file").
			WithDetail("file", filePath)
	}

	return nil
}
