package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"mailfinder/internal/models"

	"gopkg.in/yaml.v2"
)

const (
	DefaultFolder         = "INBOX"
	DefaultLogLevel       = "info"
	DefaultPollInterval   = 2 * time.Second
	DefaultPollAttempts   = 3
	DefaultArrivalTimeout = 5 * time.Second
)

// Load reads the configuration from the specified YAML file and returns a Config struct
func Load(filepath string) (*models.Config, error) {
	configFile, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Parse(configFile)
}

// Parse decodes YAML content, applies defaults and validates the result.
func Parse(data []byte) (*models.Config, error) {
	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	for key, server := range config.Servers {
		if server.Username == "" {
			return nil, fmt.Errorf("required property 'username' is not set for server '%s'", key)
		}
		if server.Password == "" {
			return nil, fmt.Errorf("required property 'password' is not set for server '%s'", key)
		}
		flat := make(map[string]string)
		if err := flatten("", server.Properties, flat); err != nil {
			return nil, fmt.Errorf("server '%s': %w", key, err)
		}
		server.Flat = flat
		config.Servers[key] = server
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Server returns the credentials of the server registered under key
func Server(cfg *models.Config, key string) (models.Credentials, error) {
	server, ok := cfg.Servers[key]
	if !ok {
		known := make([]string, 0, len(cfg.Servers))
		for k := range cfg.Servers {
			known = append(known, k)
		}
		sort.Strings(known)
		return models.Credentials{}, fmt.Errorf("unknown server '%s' (configured: %s)", key, strings.Join(known, ", "))
	}
	return server.Credentials(), nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.Folder == "" {
		cfg.Folder = DefaultFolder
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Wait.PollInterval == 0 {
		cfg.Wait.PollInterval = DefaultPollInterval
	}
	if cfg.Wait.PollAttempts == 0 {
		cfg.Wait.PollAttempts = DefaultPollAttempts
	}
	if cfg.Wait.ArrivalTimeout == 0 {
		cfg.Wait.ArrivalTimeout = DefaultArrivalTimeout
	}
}

func validate(cfg *models.Config) error {
	if cfg.Wait.PollInterval < 0 {
		return fmt.Errorf("wait.pollInterval must not be negative")
	}
	if cfg.Wait.PollAttempts < 0 {
		return fmt.Errorf("wait.pollAttempts must not be negative")
	}
	if cfg.Wait.ArrivalTimeout < 0 {
		return fmt.Errorf("wait.arrivalTimeout must not be negative")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logLevel: %s", cfg.LogLevel)
	}
	return nil
}

// flatten turns nested property maps into dotted keys, e.g. ssl: {enable: true}
// becomes "ssl.enable" = "true".
func flatten(prefix string, node interface{}, out map[string]string) error {
	switch v := node.(type) {
	case nil:
		return nil
	case map[interface{}]interface{}:
		for k, child := range v {
			if err := flatten(join(prefix, fmt.Sprint(k)), child, out); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		for k, child := range v {
			if err := flatten(join(prefix, k), child, out); err != nil {
				return err
			}
		}
	case []interface{}:
		return fmt.Errorf("property '%s': lists are not supported", prefix)
	default:
		if prefix == "" {
			return fmt.Errorf("properties must be a mapping")
		}
		out[prefix] = fmt.Sprint(v)
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
