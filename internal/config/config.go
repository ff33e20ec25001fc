package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Invoker  InvokerConfig  `yaml:"invoker"`
	Limits   LimitsConfig   `yaml:"limits"`
	Alerting AlertingConfig `yaml:"alerting"`
	Events   EventsConfig   `yaml:"events"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type WalletConfig struct {
	DefaultBalance int `yaml:"default_balance"`
}

type InvokerConfig struct {
	RemoteTimeoutSeconds int `yaml:"remote_timeout_seconds"`
	UsageLogBuffer       int `yaml:"usage_log_buffer"`
}

type LimitsConfig struct {
	MaxCallsPerMinute int `yaml:"max_calls_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

type AlertingConfig struct {
	EvalIntervalSeconds int     `yaml:"eval_interval_seconds"`
	DenialRateThreshold float64 `yaml:"denial_rate_threshold"`
	MinAttempts         int     `yaml:"min_attempts"`
}

type EventsConfig struct {
	PubSubProject string `yaml:"pubsub_project"`
	PubSubTopic   string `yaml:"pubsub_topic"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Wallet: WalletConfig{DefaultBalance: 100},
		Invoker: InvokerConfig{
			RemoteTimeoutSeconds: 60,
			UsageLogBuffer:       1024,
		},
		Limits: LimitsConfig{MaxCallsPerMinute: 60},
		Alerting: AlertingConfig{
			EvalIntervalSeconds: 60,
			DenialRateThreshold: 0.5,
			MinAttempts:         20,
		},
	}
}
