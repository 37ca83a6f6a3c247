// Package logging implements ports.Logger on top of zerolog.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the underlying zerolog writer and level threshold.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console-friendly output for local runs
}

// ZerologLogger implements ports.Logger.
type ZerologLogger struct {
	l zerolog.Logger
}

// New builds a ZerologLogger from cfg. An unrecognized Level defaults to info.
func New(cfg Config) *ZerologLogger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{l: l}
}

func withFields(e *zerolog.Event, fields ...map[string]interface{}) *zerolog.Event {
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			e = e.Interface(k, v)
		}
	}
	return e
}

func (z *ZerologLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	withFields(z.l.Debug(), fields...).Msg(msg)
}

func (z *ZerologLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	withFields(z.l.Info(), fields...).Msg(msg)
}

func (z *ZerologLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	withFields(z.l.Warn(), fields...).Msg(msg)
}

func (z *ZerologLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	withFields(z.l.Error().Err(err), fields...).Msg(msg)
}
