package dcop

import (
	"context"
	"io"
	"log/slog"
)

// Structured log entry types. Logs are append-only; the core never
// reads them back.
const (
	LogState    = "State"
	LogInfo     = "Info"
	LogDfs      = "Dfs"
	LogUtil     = "Util"
	LogValue    = "Value"
	LogResults  = "Results"
	LogEvent    = "Event"
	LogCritical = "CRITICAL"
)

// NewLogger builds the JSON-line logger with the persisted schema:
// asctime, topic, type, content, level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "asctime"
			case slog.MessageKey:
				a.Key = "content"
			}
			return a
		},
	})
	return slog.New(h)
}

// NopLogger discards everything. Components default to it so logging
// stays opt-in, wired through their options.
func NopLogger() *slog.Logger { return slog.New(discardHandler{}) }

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// logTo emits one schema entry for an agent topic.
func logTo(l *slog.Logger, id AgentID, typ, content string) {
	l.Info(content, "topic", TopicAgent(id), "type", typ)
}

// logServer emits one schema entry for the coordinator topic.
func logServer(l *slog.Logger, typ, content string) {
	l.Info(content, "topic", TopicServer, "type", typ)
}

// logCritical emits a CRITICAL entry.
func logCritical(l *slog.Logger, topic, content string) {
	l.Error(content, "topic", topic, "type", LogCritical)
}
