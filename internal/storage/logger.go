package storage

import (
	"context"
	"errors"
	"time"

	"livemod/internal/ctxkeys"
	applog "livemod/internal/logger"

	"gorm.io/gorm/logger"
)

// GormLogger 将 gorm 日志转发到应用日志器，带上当前审核动作的追踪 ID
type GormLogger struct {
	applog.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 默认只记录告警与错误，SQL 明细在 LogMode(Info) 时以 debug 输出
func NewGormLogger(l applog.Logger) *GormLogger {
	return &GormLogger{
		Logger:        l,
		LogLevel:      logger.Warn,
		SlowThreshold: 500 * time.Millisecond,
	}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	nl := *l
	nl.LogLevel = level
	return &nl
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, append(traceFields(ctx), "data", data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, append(traceFields(ctx), "data", data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Error(msg, append(traceFields(ctx), "data", data)...)
	}
}

// Trace 记录单条 SQL，找不到记录不算错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := append(traceFields(ctx),
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds())/1e6,
	)

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		l.Logger.Error("SQL执行错误", append(fields, "error", err.Error())...)
	case elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		l.Logger.Warn("慢SQL查询", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("SQL执行", fields...)
	}
}

func traceFields(ctx context.Context) []any {
	if id := ctxkeys.TraceID(ctx); id != "" {
		return []any{"traceId", id}
	}
	return []any{}
}
