// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/cryptotradex/stream-gateway/internal/ingest/binance"
	"github.com/cryptotradex/stream-gateway/internal/ingest/poller"
	"github.com/cryptotradex/stream-gateway/internal/ws"
	"github.com/cryptotradex/stream-gateway/pkg/kafka"
)

/*
   --------------------------------------------------------------------------
   СТРУКТУРЫ
   --------------------------------------------------------------------------
*/

// Config — все настройки сервиса.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Symbols []string `mapstructure:"symbols"` // поддерживаемый набор, напр. ["BTCUSDT","ETHUSDT"]

	WS        WSConfig      `mapstructure:"ws"`
	Polling   poller.Config `mapstructure:"polling"`
	Binance   BinanceConfig `mapstructure:"binance"`
	Kafka     KafkaConfig   `mapstructure:"kafka"`
	Telemetry Telemetry     `mapstructure:"telemetry"`
	Logging   Logging       `mapstructure:"logging"`
	HTTP      HTTPConfig    `mapstructure:"http"`
}

// WSConfig хранит настройки клиентского WebSocket-endpoint'а.
type WSConfig struct {
	Path              string        `mapstructure:"path"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ws.ServerConfig   `mapstructure:",squash"`
}

// BinanceConfig хранит настройки push-ингеста.
type BinanceConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	binance.Config `mapstructure:",squash"`
}

// KafkaConfig хранит настройки опционального sink-а в Kafka.
type KafkaConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PriceTopic   string `mapstructure:"price_topic"`
	kafka.Config `mapstructure:",squash"`
}

// Telemetry хранит настройки OpenTelemetry.
type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otel_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

// Logging хранит настройки логгера.
type Logging struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// HTTPConfig хранит конфигурацию HTTP-сервера (ws, /metrics, health).
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
}

/*
   --------------------------------------------------------------------------
   LOADER
   --------------------------------------------------------------------------
*/

// Load загружает и валидирует конфиг. Если path пустой — читаются только ENV и defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// ---------- 1) Defaults ----------
	v.SetDefault("service_name", "stream-gateway")
	v.SetDefault("service_version", "v1.0.0")

	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"})

	// Клиентский WebSocket
	v.SetDefault("ws.path", "/ws")
	v.SetDefault("ws.heartbeat_interval", "30s")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.read_timeout", "60s")

	// Pull-ингест
	v.SetDefault("polling.base_url", "https://api.binance.com")
	v.SetDefault("polling.interval", "5s")
	v.SetDefault("polling.request_timeout", "3s")

	// Push-ингест
	v.SetDefault("binance.enabled", true)
	v.SetDefault("binance.ws_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("binance.read_timeout", "30s")

	// Kafka sink (выключен, пока не указаны брокеры)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.price_topic", "marketdata.prices")
	v.SetDefault("kafka.acks", "all")
	v.SetDefault("kafka.timeout", "15s")
	v.SetDefault("kafka.compression", "none")
	v.SetDefault("kafka.flush_frequency", "0s")
	v.SetDefault("kafka.flush_messages", 0)

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otel_endpoint", "otel-collector:4317")
	v.SetDefault("telemetry.insecure", false)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	// HTTP server
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")

	// ---------- 2) ENV ----------
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ---------- 3) Optional file ----------
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	// ---------- 4) Decode ----------
	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &cfg,
		DecodeHook: decodeHook,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// ---------- 5) Validation ----------
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// stringToBoolHook разбирает true/false, иначе отдает исходные данные.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

/*
   --------------------------------------------------------------------------
   VALIDATION
   --------------------------------------------------------------------------
*/

func (c *Config) Validate() error {
	// Service
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	// Symbols
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must contain at least one entry")
	}

	// WS
	if !strings.HasPrefix(c.WS.Path, "/") {
		return fmt.Errorf("ws.path must start with '/'")
	}
	if c.WS.HeartbeatInterval <= 0 {
		return fmt.Errorf("ws.heartbeat_interval must be > 0")
	}
	c.WS.ServerConfig.ApplyDefaults()
	if err := c.WS.ServerConfig.Validate(); err != nil {
		return err
	}

	// Polling
	c.Polling.ApplyDefaults()
	if err := c.Polling.Validate(); err != nil {
		return err
	}

	// Binance (только если включён)
	if c.Binance.Enabled {
		c.Binance.Config.ApplyDefaults()
		if err := c.Binance.Config.Validate(); err != nil {
			return err
		}
	}

	// Kafka (только если включён)
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka.enabled")
		}
		if c.Kafka.PriceTopic == "" {
			return fmt.Errorf("kafka.price_topic is required when kafka.enabled")
		}
	}

	// Telemetry
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otel_endpoint is required when telemetry.enabled")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	// HTTP
	return validateHTTP(&c.HTTP)
}

func validateHTTP(h *HTTPConfig) error {
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

/*
   --------------------------------------------------------------------------
   DEBUG PRINT
   --------------------------------------------------------------------------
*/

// Print выводит текущий конфиг в JSON (удобно в DevMode).
func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
