package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// CaptureConfig describes where packets come from.
type CaptureConfig struct {
	Interface   string `yaml:"interface" env:"INTERFACE_NAME"`
	BPFFilter   string `yaml:"bpf_filter" env:"BPF_FILTER"`
	SnapLen     int32  `yaml:"snaplen"`
	Promiscuous bool   `yaml:"promiscuous"`
	NumWorkers  int    `yaml:"num_workers"`
	// SizeOfPacketChannel buffers decoded events between capture and the workers.
	SizeOfPacketChannel int `yaml:"size_of_packet_channel"`
}

// FlowConfig holds the flow table settings.
type FlowConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"FLOW_IDLE_TIMEOUT"`
	SweepInterval  time.Duration `yaml:"sweep_interval" env:"FLOW_SWEEP_INTERVAL"`
	MaxEntries     int           `yaml:"max_entries" env:"FLOW_MAX_ENTRIES"`
	OverflowPolicy string        `yaml:"overflow_policy" env:"FLOW_OVERFLOW_POLICY"`
	NumShards      uint32        `yaml:"num_shards" env:"FLOW_NUM_SHARDS"`
	Format         string        `yaml:"format" env:"FLOW_FORMAT"`
}

// SinkConfig defines a single export destination. Which fields are read depends on Type.
type SinkConfig struct {
	Type     string        `yaml:"type"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	DSN      string        `yaml:"dsn"`
	Table    string        `yaml:"table"`
	Path     string        `yaml:"path"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ExportConfig controls how evicted flows are delivered.
type ExportConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Sinks        []SinkConfig  `yaml:"sinks"`
}

// LogConfig selects the logger level and formatter.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// APIConfig holds the control plane listeners. An empty address disables the listener.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"API_LISTEN_ADDR"`
	GRPCAddr   string `yaml:"grpc_addr" env:"API_GRPC_ADDR"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Flow    FlowConfig    `yaml:"flow"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
	API     APIConfig     `yaml:"api"`
}

// redisEnv carries the connection variables older deployments set for the Redis sink.
type redisEnv struct {
	Host string `env:"REDIS_HOST"`
	Port int    `env:"REDIS_PORT"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Interface:           "eth0",
			SnapLen:             1600,
			Promiscuous:         true,
			NumWorkers:          4,
			SizeOfPacketChannel: 10000,
		},
		Flow: FlowConfig{
			IdleTimeout:    120 * time.Second,
			SweepInterval:  time.Second,
			OverflowPolicy: "reject",
			NumShards:      256,
			Format:         "json",
		},
		Export: ExportConfig{
			WriteTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of the defaults and then
// applies environment overrides. An empty path skips the file.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	var r redisEnv
	if err := env.Parse(&r); err != nil {
		return fmt.Errorf("failed to parse redis environment: %w", err)
	}
	if r.Host == "" && r.Port == 0 {
		return nil
	}
	if r.Host == "" {
		r.Host = "localhost"
	}
	if r.Port == 0 {
		r.Port = 6379
	}
	addr := fmt.Sprintf("%s:%d", r.Host, r.Port)

	found := false
	for i := range c.Export.Sinks {
		if c.Export.Sinks[i].Type == "redis" {
			c.Export.Sinks[i].Addr = addr
			found = true
		}
	}
	if !found {
		c.Export.Sinks = append(c.Export.Sinks, SinkConfig{Type: "redis", Addr: addr})
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Capture.Interface == "" {
		errs = append(errs, errors.New("capture.interface must not be empty"))
	}
	if c.Capture.NumWorkers <= 0 {
		errs = append(errs, fmt.Errorf("capture.num_workers must be positive, got %d", c.Capture.NumWorkers))
	}
	if c.Capture.SizeOfPacketChannel < 0 {
		errs = append(errs, fmt.Errorf("capture.size_of_packet_channel must not be negative, got %d", c.Capture.SizeOfPacketChannel))
	}
	if c.Flow.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("flow.idle_timeout must be positive, got %s", c.Flow.IdleTimeout))
	}
	if c.Flow.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("flow.sweep_interval must be positive, got %s", c.Flow.SweepInterval))
	}
	if c.Flow.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("flow.max_entries must not be negative, got %d", c.Flow.MaxEntries))
	}
	switch c.Flow.OverflowPolicy {
	case "reject", "evict-oldest":
	default:
		errs = append(errs, fmt.Errorf("flow.overflow_policy must be 'reject' or 'evict-oldest', got '%s'", c.Flow.OverflowPolicy))
	}
	switch c.Flow.Format {
	case "json", "protobuf":
	default:
		errs = append(errs, fmt.Errorf("flow.format must be 'json' or 'protobuf', got '%s'", c.Flow.Format))
	}
	for i, s := range c.Export.Sinks {
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("export.sinks[%d].type must not be empty", i))
		}
	}
	return errors.Join(errs...)
}
