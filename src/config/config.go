// Package config loads the provider configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds remote-uci configuration.
type Config struct {
	Engine       EngineConfig       `yaml:"engine"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Relay        RelayConfig        `yaml:"relay"`
	Registration RegistrationConfig `yaml:"registration"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Log          LogConfig          `yaml:"log"`
	Broker       BrokerConfig       `yaml:"broker"`
}

type EngineConfig struct {
	Path       string            `yaml:"path"`
	Args       []string          `yaml:"args"`
	WorkingDir string            `yaml:"working_dir"`
	ByCPU      ByCPUConfig       `yaml:"by_cpu"`
	Name       string            `yaml:"name"` // advertised name, defaults to the engine's id name
	MaxThreads int               `yaml:"max_threads"`
	MaxHash    int               `yaml:"max_hash"` // MiB
	Options    map[string]string `yaml:"options"`  // baseline setoption values
}

// ByCPUConfig lists engine builds for specific x86-64 instruction sets.
type ByCPUConfig struct {
	VNNI512     string `yaml:"x86_64_vnni512"`
	AVX512      string `yaml:"x86_64_avx512"`
	BMI2        string `yaml:"x86_64_bmi2"`
	AVX2        string `yaml:"x86_64_avx2"`
	SSE41Popcnt string `yaml:"x86_64_sse41_popcnt"`
	SSSE3       string `yaml:"x86_64_ssse3"`
	SSE3Popcnt  string `yaml:"x86_64_sse3_popcnt"`
}

type BridgeConfig struct {
	HandshakeTimeout       Duration `yaml:"handshake_timeout"`
	StopWatchdog           Duration `yaml:"stop_watchdog"`
	QuitGrace              Duration `yaml:"quit_grace"`
	RestartBackoff         Duration `yaml:"restart_backoff"`
	MaxRestartBackoff      Duration `yaml:"max_restart_backoff"`
	MaxConsecutiveFailures int      `yaml:"max_consecutive_failures"`
}

type RelayConfig struct {
	URL                 string   `yaml:"url"` // ws:// or wss://
	SecretFile          string   `yaml:"secret_file"`
	ReconnectBackoff    Duration `yaml:"reconnect_backoff"`
	MaxReconnectBackoff Duration `yaml:"max_reconnect_backoff"`
	WriteTimeout        Duration `yaml:"write_timeout"`
}

type RegistrationConfig struct {
	URL               string `yaml:"url"`
	OfficialStockfish bool   `yaml:"official_stockfish"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP/HTTP collector, host:port
	Insecure bool   `yaml:"insecure"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type BrokerConfig struct {
	Bind   string `yaml:"bind"`
	Secret string `yaml:"secret"`
}

// Duration is a time.Duration written as "500ms", "2s" and so on.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load reads configuration from a YAML file, expanding ${VAR} references
// from the environment. If path is empty or the file doesn't exist, it
// returns the default config.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	setDuration(&cfg.Bridge.HandshakeTimeout, 10*time.Second)
	setDuration(&cfg.Bridge.StopWatchdog, 5*time.Second)
	setDuration(&cfg.Bridge.QuitGrace, 2*time.Second)
	setDuration(&cfg.Bridge.RestartBackoff, 500*time.Millisecond)
	setDuration(&cfg.Bridge.MaxRestartBackoff, 30*time.Second)
	if cfg.Bridge.MaxConsecutiveFailures == 0 {
		cfg.Bridge.MaxConsecutiveFailures = 5
	}

	setDuration(&cfg.Relay.ReconnectBackoff, time.Second)
	setDuration(&cfg.Relay.MaxReconnectBackoff, 30*time.Second)
	setDuration(&cfg.Relay.WriteTimeout, 10*time.Second)

	if cfg.Registration.URL == "" {
		cfg.Registration.URL = "https://lichess.org/analysis/external"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Broker.Bind == "" {
		cfg.Broker.Bind = "localhost:9670"
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// Validate checks the settings a provider needs to run.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Path == "" {
		errs = append(errs, errors.New("engine.path is required"))
	}
	if c.Engine.MaxThreads < 0 {
		errs = append(errs, errors.New("engine.max_threads must not be negative"))
	}
	if c.Engine.MaxHash < 0 {
		errs = append(errs, errors.New("engine.max_hash must not be negative"))
	}
	if c.Relay.URL == "" {
		errs = append(errs, errors.New("relay.url is required"))
	} else if !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://") {
		errs = append(errs, fmt.Errorf("relay.url %q must use ws:// or wss://", c.Relay.URL))
	}
	if c.Bridge.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("bridge.max_consecutive_failures must not be negative"))
	}
	if c.Bridge.MaxRestartBackoff < c.Bridge.RestartBackoff {
		errs = append(errs, errors.New("bridge.max_restart_backoff is below bridge.restart_backoff"))
	}
	if c.Relay.MaxReconnectBackoff < c.Relay.ReconnectBackoff {
		errs = append(errs, errors.New("relay.max_reconnect_backoff is below relay.reconnect_backoff"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	return errors.Join(errs...)
}
