package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env            string
	ServiceName    string
	ServiceVersion string

	Port        string
	CORSOrigins []string

	OtelExporterOTLPEndpoint string
	OtelExporterOTLPInsecure bool
	OtelExporterOTLPHeaders  map[string]string

	Database PoolSettings
}

// Load reads the configuration from the environment, overlays config.yaml
// when present and applies defaults. Malformed values are logged and
// replaced by defaults; only an unreadable or invalid YAML file is an error.
func Load() (*Config, error) {
	logger := slog.Default()

	cfg := &Config{
		Env:                      os.Getenv("ENV"),
		ServiceName:              os.Getenv("SERVICE_NAME"),
		ServiceVersion:           os.Getenv("SERVICE_VERSION"),
		Port:                     os.Getenv("PORT"),
		CORSOrigins:              splitList(os.Getenv("CORS_ORIGINS")),
		OtelExporterOTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OtelExporterOTLPInsecure: envBool(logger, "OTEL_EXPORTER_OTLP_INSECURE", true),
		OtelExporterOTLPHeaders:  parseHeaders(logger, os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Database:                 PoolSettingsFromEnvironment(logger),
	}

	if err := cfg.LoadFromYAML("config.yaml"); err != nil {
		return nil, fmt.Errorf("failed to load YAML config: %w", err)
	}

	cfg.SetDefaults()

	return cfg, nil
}

// LoadFromYAML fills fields the environment left empty from the YAML file
// at path. A missing file is not an error.
func (c *Config) LoadFromYAML(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlConfig struct {
		Service struct {
			Name    string `yaml:"name"`
			Version string `yaml:"version"`
		} `yaml:"service"`
		Server struct {
			Port        string   `yaml:"port"`
			CORSOrigins []string `yaml:"cors_origins"`
		} `yaml:"server"`
	}

	if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if c.ServiceName == "" {
		c.ServiceName = yamlConfig.Service.Name
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = yamlConfig.Service.Version
	}
	if c.Port == "" {
		c.Port = yamlConfig.Server.Port
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = yamlConfig.Server.CORSOrigins
	}

	return nil
}

func (c *Config) SetDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.ServiceName == "" {
		c.ServiceName = "easel"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "1.0.0"
	}
	if c.Port == "" {
		c.Port = "8080"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseHeaders parses the OTLP "key=value,key=value" header format.
// Entries without a key are skipped with a warning.
func parseHeaders(logger *slog.Logger, raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range splitList(raw) {
		key, value, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			logger.Warn("Ignoring malformed OTLP header", "entry", pair)
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

func envBool(logger *slog.Logger, name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warn("Invalid boolean setting, using default", "name", name, "value", raw, "default", fallback)
		return fallback
	}
	return v
}
