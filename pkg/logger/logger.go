package logger

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Logger struct {
	*logrus.Logger
}

type ctxKey string

// Context keys carrying request scoped fields.
const (
	RequestIDKey ctxKey = "request_id"
	UserIDKey    ctxKey = "user_id"
)

var logger *Logger

func Init() *Logger {
	if logger != nil {
		return logger
	}

	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := strings.Split(f.File, "/")
			return fmt.Sprintf("%s:%d", filename[len(filename)-1], f.Line), ""
		},
	})

	log.SetReportCaller(true)
	log.SetLevel(logrus.InfoLevel)

	logger = &Logger{log}
	return logger
}

func Get() *Logger {
	if logger == nil {
		return Init()
	}
	return logger
}

func SetLevel(level string) {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Get().SetLevel(logLevel)
}

// WithContext 将请求 ID、用户 ID 与 trace ID 附加到日志条目
func WithContext(ctx context.Context) *logrus.Entry {
	e := logrus.NewEntry(Get().Logger)
	if ctx == nil {
		return e
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		e = e.WithField("request_id", v)
	}
	if v, ok := ctx.Value(UserIDKey).(string); ok && v != "" {
		e = e.WithField("user_id", v)
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		e = e.WithField("trace_id", sc.TraceID().String())
	}
	return e.WithContext(ctx)
}

func WithFieldsCtx(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	return WithContext(ctx).WithFields(fields)
}

// keyvals 按 key,value 成对展开；落单的值记在 "extra" 下
func fieldsFrom(keyvals []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 >= len(keyvals) {
			fields["extra"] = keyvals[i]
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		fields[key] = keyvals[i+1]
	}
	return fields
}

func Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	WithFieldsCtx(ctx, fieldsFrom(keyvals)).Debug(msg)
}

func Info(ctx context.Context, msg string, keyvals ...interface{}) {
	WithFieldsCtx(ctx, fieldsFrom(keyvals)).Info(msg)
}

func Warn(ctx context.Context, msg string, keyvals ...interface{}) {
	WithFieldsCtx(ctx, fieldsFrom(keyvals)).Warn(msg)
}

func Error(ctx context.Context, msg string, keyvals ...interface{}) {
	WithFieldsCtx(ctx, fieldsFrom(keyvals)).Error(msg)
}

func Fatal(ctx context.Context, msg string, keyvals ...interface{}) {
	WithFieldsCtx(ctx, fieldsFrom(keyvals)).Fatal(msg)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Get().WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return Get().WithError(err)
}
