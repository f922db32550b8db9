package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 统一日志接口，键值对形式的字段
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志输出配置
type Options struct {
	Level      string
	Writers    []string // console, file
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type zlog struct {
	zl zerolog.Logger
}

// New 根据配置创建 zerolog 日志器，返回的 Closer 用于关闭滚动文件
func New(opts Options) (Logger, io.Closer) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			if opts.File == "" {
				continue
			}
			lj := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				Compress:   true,
			}
			writers = append(writers, lj)
			closer = lj
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zlog{zl: zl}, closer
}

// NewWriter 将日志写入任意 io.Writer，主要用于测试
func NewWriter(w io.Writer, level string) Logger {
	lv, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lv = zerolog.DebugLevel
	}
	return &zlog{zl: zerolog.New(w).Level(lv)}
}

func (l *zlog) Debug(msg string, kv ...any) { l.zl.Debug().Fields(kv).Msg(msg) }
func (l *zlog) Info(msg string, kv ...any)  { l.zl.Info().Fields(kv).Msg(msg) }
func (l *zlog) Warn(msg string, kv ...any)  { l.zl.Warn().Fields(kv).Msg(msg) }
func (l *zlog) Error(msg string, kv ...any) { l.zl.Error().Fields(kv).Msg(msg) }

func (l *zlog) Err(err error, msg string, kv ...any) {
	l.zl.Error().Err(err).Fields(kv).Msg(msg)
}

func (l *zlog) With(kv ...any) Logger {
	return &zlog{zl: l.zl.With().Fields(kv).Logger()}
}

type nop struct{}

// NewNop 返回丢弃所有输出的日志器
func NewNop() Logger { return nop{} }

func (nop) Debug(string, ...any)       {}
func (nop) Info(string, ...any)        {}
func (nop) Warn(string, ...any)        {}
func (nop) Error(string, ...any)       {}
func (nop) Err(error, string, ...any)  {}
func (n nop) With(...any) Logger       { return n }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
