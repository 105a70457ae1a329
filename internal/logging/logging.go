package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elchief84/defi-liquidation-keeper/internal/version"
)

// Config describes logger runtime configuration. The zero value yields the
// keeper's production shape: info-level JSON on stdout with RFC3339 stamps.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`

	// Service and Environment are filled from the app section at bootstrap,
	// not from the logging section.
	Service     string `mapstructure:"-"`
	Environment string `mapstructure:"-"`

	// Output overrides stdout. Tests capture records through it.
	Output io.Writer `mapstructure:"-"`
}

// NewLogger constructs the root logger. Every record carries the service
// identity and build version so output from several keeper deployments can be
// told apart at the aggregator; component loggers derived from it inherit
// those fields.
func NewLogger(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		level = parsed
	}

	service := cfg.Service
	if service == "" {
		service = "liquidation-keeper"
	}

	logger := zerolog.New(logWriter(cfg)).Level(level)
	builder := logger.With().
		Timestamp().
		Str("service", service).
		Str("version", version.Version)
	if cfg.Environment != "" {
		builder = builder.Str("env", cfg.Environment)
	}
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger()
}

func logWriter(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	return out
}
