// Package logger builds the zap loggers used by the gojobuf binaries.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all the configuration for the logger.
type Config struct {
	// Level sets the minimum log level ("debug", "info", "warn", "error").
	// Unknown or empty values fall back to info.
	Level string `yaml:"level"`
	// Format is the output encoding, "json" or "console".
	Format string `yaml:"format"`
	// OutputFile is a path to append to, or "stdout"/"stderr".
	OutputFile string `yaml:"output_file"`
	// Development makes DPanic entries panic, so broken page-state
	// transitions stop the process instead of only being logged.
	Development bool `yaml:"development"`
}

// New creates a zap.Logger tagged with service=gojobuf. It's designed to be
// called once at application startup.
func New(config Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(config.Level)); err != nil || config.Level == "" {
		level.SetLevel(zap.InfoLevel)
	}

	writeSyncer, err := getWriteSyncer(config.OutputFile)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(getEncoder(config.Format), writeSyncer, level)

	opts := []zap.Option{zap.AddCaller(), zap.Fields(zap.String("service", "gojobuf"))}
	if config.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

func getEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getWriteSyncer(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.AddSync(file), nil
	}
}
