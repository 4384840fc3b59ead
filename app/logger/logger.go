package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"download-tracker/app/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 包装 zap.Logger，同时提供格式化输出
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger

	// 仅文件输出时存在，用于停止按日切分
	rotator *dailyRotator
}

// New 使用给定配置创建新的日志记录器实例
func New(cfg config.LogConfig) *Logger {
	level := parseLevel(cfg.Level)
	encoder := newEncoder(cfg.Format == "json", false)

	if cfg.Output != "file" {
		return wrap(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level), nil)
	}

	logDir := cfg.Dir
	if logDir == "" {
		logDir = "data/logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic("创建日志目录失败: " + err.Error())
	}

	sink := &lumberjack.Logger{
		Filename:   dailyFileName(logDir, time.Now()),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(sink), level)

	// 调试级别下同时输出到控制台
	if level == zapcore.DebugLevel {
		console := zapcore.NewCore(newEncoder(false, true), zapcore.AddSync(os.Stdout), level)
		core = zapcore.NewTee(core, console)
	}

	return wrap(core, startDailyRotator(sink, logDir))
}

// NewNop 创建不输出任何内容的日志器，用于测试
func NewNop() *Logger {
	return wrap(zapcore.NewNopCore(), nil)
}

func wrap(core zapcore.Core, rotator *dailyRotator) *Logger {
	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: l, sugar: sugared(l), rotator: rotator}
}

// sugared 跳过包装方法这一层，使 caller 指向实际调用处
func sugared(l *zap.Logger) *zap.SugaredLogger {
	return l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// newEncoder 文本格式使用带颜色的级别，json 格式使用小写级别
func newEncoder(json, color bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if json && !color {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func dailyFileName(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format("2006-01-02")+".log")
}

// dailyRotator 每天零点切换到以日期命名的新文件
type dailyRotator struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startDailyRotator(sink *lumberjack.Logger, dir string) *dailyRotator {
	ctx, cancel := context.WithCancel(context.Background())
	r := &dailyRotator{cancel: cancel}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			now := time.Now()
			next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

			select {
			case <-ctx.Done():
				return
			case <-time.After(next.Sub(now) + time.Second):
				sink.Filename = dailyFileName(dir, next)
				// 关闭当前文件，下次写入时打开新文件
				_ = sink.Close()
			}
		}
	}()
	return r
}

// Named 返回带名称的子日志器，与父日志器共享输出
func (l *Logger) Named(name string) *Logger {
	named := l.Logger.Named(name)
	return &Logger{Logger: named, sugar: sugared(named)}
}

// Close 停止日志切分并刷新缓冲区
func (l *Logger) Close() error {
	if l.rotator != nil {
		l.rotator.cancel()
		l.rotator.wg.Wait()
	}
	return l.Logger.Sync()
}

func (l *Logger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.sugar.Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.sugar.Errorf(template, args...)
}

func (l *Logger) Fatalf(template string, args ...interface{}) {
	l.sugar.Fatalf(template, args...)
}
