package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from an optional file and environment variables
// path: Config file (yaml, json or toml); empty skips the file
// prefix: Environment variable prefix (e.g. "REPLICATOR_")
// defaults: Values used when neither source sets a key
// target: Pointer to the config struct to load into
func Load(path, prefix string, defaults map[string]any, target interface{}) error {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 1. Load from the config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("config file %s not found: %w", path, err)
			}
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// 2. Load from environment variables
	// REPLICATOR_POSTGRES_HOST -> postgres.host
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || prefixUpper == "" || !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		// Remove leading dot if any (e.g. if prefix didn't include underscore but env did)
		propKey = strings.TrimPrefix(propKey, ".")
		if propKey == "" {
			continue
		}
		v.Set(propKey, value)
	}

	// 3. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
