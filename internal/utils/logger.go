package utils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger 日志记录器
type Logger struct {
	level string
	entry *logrus.Logger
}

// NewLogger 创建新的日志记录器
func NewLogger(level string) *Logger {
	return NewLoggerWithOutput(level, os.Stderr)
}

// NewLoggerWithOutput 创建写入指定输出的日志记录器
func NewLoggerWithOutput(level string, out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level = strings.ToLower(strings.TrimSpace(level))
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		level = "info"
	}
	l.SetLevel(lvl)

	return &Logger{level: level, entry: l}
}

// Level 当前日志级别
func (l *Logger) Level() string {
	return l.level
}

// IsDebug 是否输出调试日志，热路径上用于跳过参数格式化
func (l *Logger) IsDebug() bool {
	return l.entry.IsLevelEnabled(logrus.DebugLevel)
}

// Debug 调试日志
func (l *Logger) Debug(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// Info 信息日志
func (l *Logger) Info(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

// Warn 警告日志
func (l *Logger) Warn(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

// Error 错误日志
func (l *Logger) Error(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

// Fatal 致命错误，记录后退出
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}

// Discard 丢弃全部输出的日志记录器，测试使用
func Discard() *Logger {
	return NewLoggerWithOutput("error", io.Discard)
}
