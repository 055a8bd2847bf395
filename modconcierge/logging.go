package modconcierge

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	gormlogger "gorm.io/gorm/logger"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const loggerNameKey = "logger"

var defaultLogWriter io.Writer = os.Stdout

// newLogHandler returns the tint handler used by every component logger
func newLogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	if w == nil {
		w = defaultLogWriter
	}
	return tint.NewHandler(w, &tint.Options{Level: level, AddSource: true})
}

// discordgoLoggerFunc returns a replacement for [discordgo.Logger] that
// writes through handler. Multi-line messages are joined onto one line.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	logger := slog.New(handler).With(loggerNameKey, "discordgo")
	return func(msgL int, _ int, format string, args ...any) {
		var level slog.Level
		switch msgL {
		case discordgo.LogError:
			level = slog.LevelError
		case discordgo.LogWarning:
			level = slog.LevelWarn
		case discordgo.LogDebug:
			level = slog.LevelDebug
		default:
			level = slog.LevelInfo
		}
		if !logger.Enabled(ctx, level) {
			return
		}
		msg := strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", " ")
		logger.LogAttrs(ctx, level, strings.TrimSpace(msg))
	}
}

// DBLogLevel is a slog level name persisted in [RuntimeConfig]. Only
// DEBUG, INFO, WARN and ERROR are accepted.
type DBLogLevel string

var (
	DBLogLevelDebug = DBLogLevel(slog.LevelDebug.String())
	DBLogLevelInfo  = DBLogLevel(slog.LevelInfo.String())
	DBLogLevelWarn  = DBLogLevel(slog.LevelWarn.String())
	DBLogLevelError = DBLogLevel(slog.LevelError.String())
)

var errInvalidLogLevel = errors.New("invalid log level")

func parseDBLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return lvl, fmt.Errorf("%w: %q", errInvalidLogLevel, s)
	}
	switch lvl {
	case slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError:
		return lvl, nil
	}
	return lvl, fmt.Errorf("%w: %q (offsets aren't supported)", errInvalidLogLevel, s)
}

func (l *DBLogLevel) Set(s string) error {
	lvl, err := parseDBLogLevel(s)
	if err != nil {
		return err
	}
	*l = DBLogLevel(lvl.String())
	return nil
}

// Level falls back to INFO for unrecognized values
func (l DBLogLevel) Level() slog.Level {
	lvl, err := parseDBLogLevel(string(l))
	if err != nil {
		slog.Default().Warn("falling back to INFO", tint.Err(err))
		return slog.LevelInfo
	}
	return lvl
}

func (l DBLogLevel) String() string {
	return string(l)
}

func (l *DBLogLevel) Scan(value any) error {
	switch v := value.(type) {
	case string:
		return l.Set(v)
	case []byte:
		return l.Set(string(v))
	}
	return fmt.Errorf("can't scan %T into DBLogLevel", value)
}

func (l DBLogLevel) Value() (driver.Value, error) {
	return string(l), nil
}

func (DBLogLevel) GormDataType() string {
	return "string"
}

func (l DBLogLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(l))
}

func (l *DBLogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return l.Set(s)
}

// gormStructuredLogger adapts slog to gorm's logger.Interface. Statements
// log at DEBUG, statements over slowThreshold at WARN, and failures
// (other than record-not-found) at ERROR.
type gormStructuredLogger struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

func newGORMLogger(handler slog.Handler, slowThreshold time.Duration) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		slowThreshold: slowThreshold,
	}
}

// LogMode returns g unchanged. The handler's level decides what's written.
func (g *gormStructuredLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return g
}

func (g *gormStructuredLogger) Info(ctx context.Context, format string, args ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(format, args...))
}

func (g *gormStructuredLogger) Warn(ctx context.Context, format string, args ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(format, args...))
}

func (g *gormStructuredLogger) Error(ctx context.Context, format string, args ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(format, args...))
}

func (g *gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound)
	slow := g.slowThreshold > 0 && elapsed > g.slowThreshold

	level := slog.LevelDebug
	switch {
	case failed:
		level = slog.LevelError
	case slow:
		level = slog.LevelWarn
	}
	if !g.logger.Enabled(ctx, level) {
		return
	}

	stmt, rows := fc()
	attrs := []slog.Attr{
		slog.Duration("elapsed", elapsed),
		slog.String("sql", stmt),
	}
	if rows >= 0 {
		attrs = append(attrs, slog.Int64("rows", rows))
	}
	if slow {
		attrs = append(attrs, slog.Duration("threshold", g.slowThreshold))
	}
	if err != nil {
		attrs = append(attrs, tint.Err(err))
	}
	g.logger.LogAttrs(ctx, level, "sql", attrs...)
}
