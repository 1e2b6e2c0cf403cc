package models

import "time"

// Config represents the application configuration
type Config struct {
	LogLevel string                  `yaml:"logLevel"`
	Folder   string                  `yaml:"folder"`
	Wait     WaitPolicy              `yaml:"wait"`
	Servers  map[string]ServerConfig `yaml:"servers"`
}

// ServerConfig represents the connection settings of one mail server.
// Properties may be nested in the YAML file; they are flattened to dotted keys on load.
type ServerConfig struct {
	Username   string                 `yaml:"username"`
	Password   string                 `yaml:"password"`
	Properties map[string]interface{} `yaml:"properties"`

	Flat map[string]string `yaml:"-"`
}

// WaitPolicy bounds how long a retrieval waits for messages to arrive.
type WaitPolicy struct {
	PollInterval   time.Duration `yaml:"pollInterval"`
	PollAttempts   int           `yaml:"pollAttempts"`
	ArrivalTimeout time.Duration `yaml:"arrivalTimeout"`
}

// Credentials converts the server settings into session credentials
func (s ServerConfig) Credentials() Credentials {
	return NewCredentials(s.Username, s.Password, s.Flat)
}
