// Package config loads the oracdc core's YAML configuration document:
// the recognized options table plus the ambient
// logger/telemetry sections, using gopkg.in/yaml.v2 (carried from the
// rest of the example pack's configuration style).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/oracdc-io/oracdc/pkg/logger"
	"github.com/oracdc-io/oracdc/pkg/telemetry"
)

// Writer holds the recognized writer options.
type Writer struct {
	MessageFormat   string `yaml:"messageFormat"`
	XidFormat       string `yaml:"xidFormat"`
	TimestampFormat string `yaml:"timestampFormat"`
	CharFormat      string `yaml:"charFormat"`
	ScnFormat       string `yaml:"scnFormat"`
	UnknownFormat   string `yaml:"unknownFormat"`
	SchemaFormat    string `yaml:"schemaFormat"`
	ColumnFormat    string `yaml:"columnFormat"`
	NlsCharset      string `yaml:"nlsCharset"`
	NlsNcharCharset string `yaml:"nlsNcharCharset"`
	MaxMessageMb    int    `yaml:"maxMessageMb"`
}

// QuicSink configures the default network sink (internal/sink/quicsink).
type QuicSink struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	URLPath       string `yaml:"urlPath"`
	NumConns      int    `yaml:"numConnections"`
	QueueCapacity int    `yaml:"queueCapacity"`
	RateLimitPerS int    `yaml:"rateLimitPerSecond"`
	InsecureTLS   bool   `yaml:"insecureSkipVerify"`
}

// Config is the single YAML document this core loads at startup.
type Config struct {
	Writer    Writer             `yaml:"writer"`
	QuicSink  QuicSink           `yaml:"quicSink"`
	Logger    logger.Config      `yaml:"logger"`
	Telemetry telemetry.Config   `yaml:"telemetry"`
}

// Default returns a Config with the same defaults the original
// analyser assumes when an option is left unset.
func Default() Config {
	return Config{
		Writer: Writer{
			MessageFormat:   "json",
			XidFormat:       "hex",
			TimestampFormat: "iso8601",
			CharFormat:      "utf8",
			ScnFormat:       "numeric",
			UnknownFormat:   "hex",
			SchemaFormat:    "none",
			ColumnFormat:    "changed",
			NlsCharset:      "AL32UTF8",
			NlsNcharCharset: "AL32UTF8",
			MaxMessageMb:    100,
		},
		QuicSink: QuicSink{
			Enabled:       false,
			NumConns:      4,
			QueueCapacity: 1024,
			RateLimitPerS: 500,
		},
		Logger: logger.Config{Level: "info", Format: "json", OutputFile: "stdout"},
	}
}

// Load reads and parses a YAML config document from path, starting
// from Default() so unset fields keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
