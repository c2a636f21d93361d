package main

import "time"

type Config struct {
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,required=true"`
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
	JWTSecret            string        `env:"JWT_SECRET,required=true" validate:"min=32"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL,default=24h"`
	BufferRetention      time.Duration `env:"BUFFER_RETENTION,default=168h"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
}
