package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Environments accepted by ENVIRONMENT.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Log levels accepted by LOG_LEVEL.
const (
	LogLevelDebug    = "DEBUG"
	LogLevelInfo     = "INFO"
	LogLevelWarning  = "WARNING"
	LogLevelError    = "ERROR"
	LogLevelCritical = "CRITICAL"
)

// Trace export protocols accepted by TRACE_PROTOCOL.
const (
	TraceProtocolGRPC = "grpc"
	TraceProtocolHTTP = "http"
)

// Broker holds the message-broker connection settings.
type Broker struct {
	Host     string
	Port     int
	User     string
	Pass     string
	VHost    string
	Exchange string
}

// URL renders the AMQP connection URL. The vhost is path-escaped, so the
// default vhost "/" becomes "%2F".
func (b Broker) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(b.User), url.QueryEscape(b.Pass),
		b.Host, b.Port, url.PathEscape(b.VHost))
}

// KV holds the key-value store connection settings.
type KV struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address for the KV store.
func (k KV) Addr() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

// Observability holds logging and tracing settings shared by every agent.
type Observability struct {
	ServiceName    string
	ServiceVersion string
	LogLevel       string
	// TraceEndpoint is the OTLP endpoint. Empty disables export.
	TraceEndpoint   string
	TraceProtocol   string
	TraceSampleRate float64
}

// Config is the full environment-driven configuration of an agent process.
type Config struct {
	Environment   string
	Broker        Broker
	KV            KV
	Observability Observability
	// OpsAddr is the listen address of the operational HTTP server.
	// Empty disables it.
	OpsAddr string
}

// ValidationError reports every invalid or malformed configuration value
// found while loading. The individual field errors are joined and available
// through Unwrap.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// Load builds the configuration for the named service from the process
// environment, applying defaults for unset variables. Malformed or
// out-of-range values fail fast with a *ValidationError listing every
// offending field.
func Load(serviceName string) (*Config, error) {
	var errs []error

	cfg := &Config{
		Environment: getString("ENVIRONMENT", EnvDevelopment),
		Broker: Broker{
			Host:     getString("BROKER_HOST", "localhost"),
			Port:     getInt("BROKER_PORT", 5672, &errs),
			User:     getString("BROKER_USER", "guest"),
			Pass:     getString("BROKER_PASS", "guest"),
			VHost:    getString("BROKER_VHOST", "/"),
			Exchange: getString("BROKER_EXCHANGE", "chimera.events"),
		},
		KV: KV{
			Host:     getString("KV_HOST", "localhost"),
			Port:     getInt("KV_PORT", 6379, &errs),
			Password: getString("KV_PASSWORD", ""),
			DB:       getInt("KV_DB", 0, &errs),
		},
		Observability: Observability{
			ServiceName:     serviceName,
			ServiceVersion:  getString("SERVICE_VERSION", "unknown"),
			LogLevel:        getString("LOG_LEVEL", LogLevelInfo),
			TraceEndpoint:   getString("TRACE_ENDPOINT", ""),
			TraceProtocol:   getString("TRACE_PROTOCOL", TraceProtocolGRPC),
			TraceSampleRate: getFloat("TRACE_SAMPLE_RATE", 1.0, &errs),
		},
		OpsAddr: getString("OPS_ADDR", ":8090"),
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, &ValidationError{err: errors.Join(errs...)}
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations. It returns the joined field
// errors, or nil when the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be one of development, staging, production (got %q)", c.Environment))
	}

	if c.Broker.Host == "" {
		errs = append(errs, errors.New("BROKER_HOST cannot be empty"))
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("BROKER_PORT must be in [1, 65535] (got %d)", c.Broker.Port))
	}
	if c.Broker.VHost == "" {
		errs = append(errs, errors.New("BROKER_VHOST cannot be empty"))
	}
	if c.Broker.Exchange == "" {
		errs = append(errs, errors.New("BROKER_EXCHANGE cannot be empty"))
	}

	if c.KV.Host == "" {
		errs = append(errs, errors.New("KV_HOST cannot be empty"))
	}
	if c.KV.Port < 1 || c.KV.Port > 65535 {
		errs = append(errs, fmt.Errorf("KV_PORT must be in [1, 65535] (got %d)", c.KV.Port))
	}
	if c.KV.DB < 0 || c.KV.DB > 15 {
		errs = append(errs, fmt.Errorf("KV_DB must be in [0, 15] (got %d)", c.KV.DB))
	}

	switch c.Observability.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL (got %q)", c.Observability.LogLevel))
	}

	switch c.Observability.TraceProtocol {
	case TraceProtocolGRPC, TraceProtocolHTTP:
	default:
		errs = append(errs, fmt.Errorf("TRACE_PROTOCOL must be grpc or http (got %q)", c.Observability.TraceProtocol))
	}

	if rate := c.Observability.TraceSampleRate; rate < 0 || rate > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATE must be in [0.0, 1.0] (got %g)", rate))
	}

	if c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("service name cannot be empty"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// IsProduction reports whether the process runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer (got %q)", key, value))
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a number (got %q)", key, value))
		return fallback
	}
	return parsed
}
