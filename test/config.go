package test

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogLevel string `envconfig:"TEST_LOG_LEVEL" default:"error"`
	// TEST_SINK_BUFFER sizes the per-session outbound queues used by the scenarios
	SinkBuffer int `envconfig:"TEST_SINK_BUFFER" default:"64"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
