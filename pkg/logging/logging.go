// Package logging wires the transcription.Logger interface to a concrete,
// leveled logger.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"

	"github.com/lokutor-ai/voice-core/pkg/transcription"
)

// CharmLogger adapts github.com/charmbracelet/log to transcription.Logger.
type CharmLogger struct {
	l *charmlog.Logger
}

// NewCharmLogger builds a CharmLogger writing to stderr at the given level
// ("debug", "info", "warn", "error"; anything else defaults to "info").
func NewCharmLogger(level string) *CharmLogger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
	})
	l.SetLevel(parseLevel(level))
	return &CharmLogger{l: l}
}

func parseLevel(level string) charmlog.Level {
	switch level {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func (c *CharmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *CharmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *CharmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *CharmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }

var _ transcription.Logger = (*CharmLogger)(nil)
