package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 键值对风格的结构化日志接口
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
	Level    string   // debug/info/warn/error
	Writer   []string // console、file
	FilePath string   // file 输出路径
}

type zlogger struct {
	l zerolog.Logger
}

// New 按配置创建 zerolog 日志器，未指定输出时默认控制台
func New(opts Options) Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writer {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		case "file":
			path := opts.FilePath
			if path == "" {
				path = "cdptap.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    50, // MB
				MaxBackups: 5,
				MaxAge:     14, // 天
				Compress:   true,
			})
		}
	}
	var out io.Writer
	switch len(writers) {
	case 0:
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	return &zlogger{l: zerolog.New(out).Level(level).With().Timestamp().Logger()}
}

// NewNop 创建丢弃所有输出的日志器
func NewNop() Logger {
	return &zlogger{l: zerolog.Nop()}
}

func (z *zlogger) Debug(msg string, kv ...any) { emit(z.l.Debug(), msg, kv) }
func (z *zlogger) Info(msg string, kv ...any)  { emit(z.l.Info(), msg, kv) }
func (z *zlogger) Warn(msg string, kv ...any)  { emit(z.l.Warn(), msg, kv) }
func (z *zlogger) Error(msg string, kv ...any) { emit(z.l.Error(), msg, kv) }

func (z *zlogger) Err(err error, msg string, kv ...any) {
	emit(z.l.Error().Err(err), msg, kv)
}

func (z *zlogger) With(kv ...any) Logger {
	c := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		c = c.Interface(k, kv[i+1])
	}
	return &zlogger{l: c.Logger()}
}

func emit(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(k, kv[i+1])
	}
	e.Msg(msg)
}
