package logger

import (
	"fmt"
	"io"
	"os"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/models"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 是对 logrus 的封装，以提供更方便的结构化日志记录功能。
// 所有 With* 方法都返回新的 Logger，不会修改接收者。
type Logger struct {
	entry *logrus.Entry
}

// Init 初始化全局的 logrus 配置。
// 如果配置了 File，则通过 lumberjack 写入滚动日志文件。
func Init(cfg config.LoggerConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("无效的日志级别 %q: %w", cfg.Level, err)
	}

	// 设置日志格式为 JSON，方便后续的日志采集和分析。
	logrus.SetFormatter(jsonFormatter())

	var out io.Writer = os.Stdout
	if cfg.Stderr {
		out = os.Stderr
	}
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	return nil
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// New 创建一个绑定服务名的 Logger。
func New(serviceName string) *Logger {
	return &Logger{
		entry: logrus.WithField("service_name", serviceName),
	}
}

// NewWithWriter 创建一个独立于全局配置、写入 w 的 Logger，主要用于测试。
func NewWithWriter(serviceName string, w io.Writer) *Logger {
	l := logrus.New()
	l.SetFormatter(jsonFormatter())
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	return &Logger{entry: l.WithField("service_name", serviceName)}
}

// Discard 返回一个丢弃所有输出的 Logger。
func Discard() *Logger {
	return NewWithWriter("discard", io.Discard)
}

// WithField 添加单个字段。
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields 添加多个字段。
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithTask 绑定任务和 Agent，执行链路上的日志都应带上这两个字段。
func (l *Logger) WithTask(taskID, agentID string) *Logger {
	return l.WithFields(map[string]interface{}{"task_id": taskID, "agent_id": agentID})
}

// WithRequest 将请求信息添加到日志条目中。
func (l *Logger) WithRequest(req models.RequestInfo) *Logger {
	return &Logger{entry: l.entry.WithField("request_info", req)}
}

// WithError 将错误信息添加到日志条目中。
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{entry: l.entry.WithField("error", models.ErrorInfo{
		Message: err.Error(),
		Type:    fmt.Sprintf("%T", err),
	})}
}

// Info 记录一条信息级别的日志。
func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

// Infof 记录一条格式化的信息级别日志。
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn 记录一条警告级别的日志。
func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

// Warnf 记录一条格式化的警告级别日志。
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error 记录一条错误级别的日志。
func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

// Errorf 记录一条格式化的错误级别日志。
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Debug 记录一条调试级别的日志。
func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

// Fatal 记录一条致命错误级别的日志，并终止程序。
func (l *Logger) Fatal(message string) {
	l.entry.Fatal(message)
}
