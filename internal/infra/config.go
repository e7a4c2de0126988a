package infra

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"feedengine/internal/domain"
)

// Config holds every engine setting recognized under the "network",
// "engine", and "output" keys, resolved through defaults → config
// file → environment → command-line flags, in that order.
type Config struct {
	Network struct {
		Symbol                 string  `yaml:"symbol"`
		WSHost                 string  `yaml:"ws_host"`
		WSPort                 int     `yaml:"ws_port"`
		RESTHost               string  `yaml:"rest_host"`
		RESTPort               int     `yaml:"rest_port"`
		ReconnectDelayInitial  float64 `yaml:"reconnect_delay_initial"`
		ReconnectDelayMax      float64 `yaml:"reconnect_delay_max"`
		ReconnectMultiplier    float64 `yaml:"reconnect_multiplier"`
		ReconnectJitterFactor  float64 `yaml:"reconnect_jitter_factor"`
	} `yaml:"network"`

	Engine struct {
		QueueCapacity      int     `yaml:"queue_capacity"`
		VWAPWindow         int     `yaml:"vwap_window"`
		LargeTradeStdDevs  float64 `yaml:"large_trade_std_devs"`
		DepthLimit         int     `yaml:"depth_limit"`
	} `yaml:"engine"`

	Output struct {
		MetricsIntervalMS int `yaml:"metrics_interval_ms"`
		WSServerPort      int `yaml:"ws_server_port"`
		ImbalanceLevels   int `yaml:"imbalance_levels"`
		LogLevel          string `yaml:"log_level"`
		LogDir            string `yaml:"log_dir"`
	} `yaml:"output"`
}

// DefaultConfig returns the engine's built-in defaults, per the
// configuration table: the base of the defaults → file → env → flags
// precedence chain.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Network.Symbol = "btcusdt"
	cfg.Network.WSHost = "stream.venue.example"
	cfg.Network.WSPort = 443
	cfg.Network.RESTHost = "api.venue.example"
	cfg.Network.RESTPort = 443
	cfg.Network.ReconnectDelayInitial = 1.0
	cfg.Network.ReconnectDelayMax = 30.0
	cfg.Network.ReconnectMultiplier = 2.0
	cfg.Network.ReconnectJitterFactor = 0.30

	cfg.Engine.QueueCapacity = 65536
	cfg.Engine.VWAPWindow = 100
	cfg.Engine.LargeTradeStdDevs = 2.0
	cfg.Engine.DepthLimit = 1000

	cfg.Output.MetricsIntervalMS = 500
	cfg.Output.WSServerPort = 9001
	cfg.Output.ImbalanceLevels = 10
	cfg.Output.LogLevel = "info"
	cfg.Output.LogDir = "logs"
	return cfg
}

// LoadConfig starts from DefaultConfig and layers a YAML file on top.
// A missing file is not an error — the defaults stand; a malformed
// one is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, &domain.ConfigError{Field: path, Err: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: path, Err: err}
	}

	return cfg, nil
}

// ApplyEnvOverrides reads a fixed set of ENGINE_* environment
// variables, mirroring the teacher's CRYPTO_* override convention.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENGINE_SYMBOL"); v != "" {
		cfg.Network.Symbol = v
	}
	if v := os.Getenv("ENGINE_WS_HOST"); v != "" {
		cfg.Network.WSHost = v
	}
	if v := os.Getenv("ENGINE_REST_HOST"); v != "" {
		cfg.Network.RESTHost = v
	}
	if v := os.Getenv("ENGINE_WS_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Output.WSServerPort = n
		}
	}
	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		cfg.Output.LogLevel = v
	}
}

// ApplyFlagOverrides registers the engine's flags on fs and applies
// any that were parsed, at the highest precedence. Flags default to
// the resolved config's current values so an unset flag is a no-op.
func ApplyFlagOverrides(cfg *Config, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", cfg.Network.Symbol, "venue symbol, lowercase")
	wsHost := fs.String("ws-host", cfg.Network.WSHost, "upstream websocket host")
	restHost := fs.String("rest-host", cfg.Network.RESTHost, "upstream REST host")
	wsServerPort := fs.Int("ws-server-port", cfg.Output.WSServerPort, "downstream subscriber listen port")
	metricsIntervalMS := fs.Int("metrics-interval-ms", cfg.Output.MetricsIntervalMS, "metrics broadcast cadence in milliseconds")
	logLevel := fs.String("log-level", cfg.Output.LogLevel, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Network.Symbol = *symbol
	cfg.Network.WSHost = *wsHost
	cfg.Network.RESTHost = *restHost
	cfg.Output.WSServerPort = *wsServerPort
	cfg.Output.MetricsIntervalMS = *metricsIntervalMS
	cfg.Output.LogLevel = *logLevel
	return nil
}

// Validate fails fast on a configuration that would otherwise corrupt
// engine state at runtime rather than at startup.
func (c *Config) Validate() error {
	if c.Network.Symbol == "" {
		return &domain.ConfigError{Field: "network.symbol", Err: fmt.Errorf("must not be empty")}
	}
	if c.Engine.QueueCapacity <= 0 || c.Engine.QueueCapacity&(c.Engine.QueueCapacity-1) != 0 {
		return &domain.ConfigError{Field: "engine.queue_capacity", Err: fmt.Errorf("must be a power of two, got %d", c.Engine.QueueCapacity)}
	}
	if c.Engine.VWAPWindow <= 0 {
		return &domain.ConfigError{Field: "engine.vwap_window", Err: fmt.Errorf("must be positive")}
	}
	if c.Engine.DepthLimit <= 0 || c.Engine.DepthLimit > 1000 {
		return &domain.ConfigError{Field: "engine.depth_limit", Err: fmt.Errorf("must be in (0, 1000]")}
	}
	if c.Output.MetricsIntervalMS <= 0 {
		return &domain.ConfigError{Field: "output.metrics_interval_ms", Err: fmt.Errorf("must be positive")}
	}
	if c.Output.WSServerPort <= 0 || c.Output.WSServerPort > 65535 {
		return &domain.ConfigError{Field: "output.ws_server_port", Err: fmt.Errorf("must be a valid TCP port")}
	}
	if c.Network.WSHost == "" {
		return &domain.ConfigError{Field: "network.ws_host", Err: fmt.Errorf("must not be empty")}
	}
	if c.Network.RESTHost == "" {
		return &domain.ConfigError{Field: "network.rest_host", Err: fmt.Errorf("must not be empty")}
	}
	return nil
}
