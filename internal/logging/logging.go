// Package logging builds the simulator's zerolog loggers and the structured
// events every fill, transition and rejection is reported with.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"fxsim/internal/config"
	"fxsim/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig logs info and above to the console only.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Console:    true,
		FilePath:   filepath.Join(config.DefaultConfigDir(), "logs", "fxsim.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// FromConfig converts the [log] section of the application config.
func FromConfig(cfg config.LogConfig) LogConfig {
	return LogConfig{
		Level:      cfg.Level,
		Console:    cfg.Console,
		File:       cfg.File,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
}

// NewLogger creates a logger with the default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a logger writing to the console, a rotated
// file, or both. With neither enabled it writes JSON to stderr. The level
// is applied globally.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stderr))
	}
	if cfg.File {
		if w, err := rotatingFile(cfg); err == nil {
			writers = append(writers, w)
		}
	}

	var out io.Writer = os.Stderr
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	labels := map[string]string{
		"debug": "\033[36mDBG\033[0m",
		"info":  "\033[32mINF\033[0m",
		"warn":  "\033[33mWRN\033[0m",
		"error": "\033[31mERR\033[0m",
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			if label, ok := labels[level]; ok {
				return label
			}
			if level == "" {
				return "???"
			}
			return level
		},
	}
}

func rotatingFile(cfg LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithComponent tags logger with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithSymbol tags logger with an instrument.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// LogFill logs an order execution.
func LogFill(logger zerolog.Logger, entry models.ExecutionLogEntry) {
	logger.Info().
		Str("event", "fill").
		Str("order_id", entry.OrderID).
		Str("trade_id", entry.TradeID).
		Str("symbol", entry.Symbol).
		Str("kind", string(entry.OrderKind)).
		Str("side", string(entry.Side)).
		Float64("requested", entry.RequestedPrice).
		Float64("executed", entry.ExecutedPrice).
		Float64("slippage", entry.SlippageApplied).
		Float64("spread", entry.SpreadApplied).
		Int("bar", entry.BarIndex).
		Msg("Order filled")
}

// LogTransition logs a bracket trade state change.
func LogTransition(logger zerolog.Logger, tradeID string, from, to models.TradeState) {
	logger.Info().
		Str("event", "transition").
		Str("trade_id", tradeID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Trade state changed")
}

// LogRejection logs a rejected trade proposal.
func LogRejection(logger zerolog.Logger, p models.TradeProposal, err error) {
	logger.Warn().
		Str("event", "rejection").
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Float64("entry", p.EntryPrice).
		Float64("sl", p.SLPrice).
		Float64("tp", p.TPPrice).
		Err(err).
		Msg("Trade proposal rejected")
}
