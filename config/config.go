// Package config loads the commerced configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App       App       `yaml:"app"`
	Log       Log       `yaml:"log"`
	Transport Transport `yaml:"transport"`
	Kafka     Kafka     `yaml:"kafka"`
	Redis     Redis     `yaml:"redis"`
	Metrics   Metrics   `yaml:"metrics"`
	Checkout  Checkout  `yaml:"checkout"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"commerced"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Transport struct {
	// Kind selects the bus transport: "memory" or "kafka".
	Kind string `yaml:"kind" env:"TRANSPORT_KIND" env-default:"memory"`
}

type Kafka struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	EventsTopic string   `yaml:"events_topic" env:"KAFKA_EVENTS_TOPIC" env-default:"commerce.events"`
	StartOffset string   `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"earliest"`
}

type Redis struct {
	// Addr empty means the in-memory saga store and idempotency index.
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:""`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:"9090"`
}

type Checkout struct {
	// RetentionHours bounds how long finished saga instances and
	// idempotency entries are kept in Redis.
	RetentionHours int `yaml:"retention_hours" env:"CHECKOUT_RETENTION_HOURS" env-default:"72"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
