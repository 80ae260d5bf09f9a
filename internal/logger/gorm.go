package logger

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var tablePattern = regexp.MustCompile(`(?i)\b(?:from|into|update)\s+"?([a-z_][a-z0-9_]*)"?`)

// GormLogger routes gorm's SQL tracing through slog so queries share the
// request id of the handler that issued them.
type GormLogger struct {
	logLevel      gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewGormLogger(level string) *GormLogger {
	var lvl gormlogger.LogLevel
	switch level {
	case "silent":
		lvl = gormlogger.Silent
	case "error":
		lvl = gormlogger.Error
	case "warn", "warning":
		lvl = gormlogger.Warn
	default:
		lvl = gormlogger.Info
	}
	return &GormLogger{logLevel: lvl, slowThreshold: 200 * time.Millisecond}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{logLevel: level, slowThreshold: g.slowThreshold}
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= gormlogger.Info {
		FromContext(ctx).Info("gorm info", "msg_detail", msg, "data", data)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= gormlogger.Warn {
		FromContext(ctx).Warn("gorm warn", "msg_detail", msg, "data", data)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= gormlogger.Error {
		FromContext(ctx).Error("gorm error", "msg_detail", msg, "data", data)
	}
}

// Trace logs SQL with rows affected and elapsed time. A missing row is an
// expected outcome on the redirect path and is not reported as an error.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.logLevel == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	op, table := describeSQL(sql)
	attrs := []any{
		"op", op,
		"table", table,
		"sql", sql,
		"rows", rows,
		"elapsed_ms", float64(elapsed.Microseconds()) / 1000.0,
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, gorm.ErrRecordNotFound) {
		if g.logLevel >= gormlogger.Error {
			FromContext(ctx).Error("gorm trace", append(attrs, "err", err)...)
		}
		return
	}

	if g.slowThreshold > 0 && elapsed > g.slowThreshold {
		if g.logLevel >= gormlogger.Warn {
			attrs = append(attrs, "slow", true, "threshold_ms", float64(g.slowThreshold.Microseconds())/1000.0)
			FromContext(ctx).Warn("gorm trace slow", attrs...)
		}
		return
	}

	if g.logLevel >= gormlogger.Info {
		FromContext(ctx).Debug("gorm trace", attrs...)
	}
}

// describeSQL returns the statement keyword and the first table it names.
func describeSQL(sql string) (op, table string) {
	fields := strings.Fields(sql)
	if len(fields) > 0 {
		op = strings.ToUpper(fields[0])
	}
	if m := tablePattern.FindStringSubmatch(sql); m != nil {
		table = m[1]
	}
	return op, table
}
