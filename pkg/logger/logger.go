package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// LogLevel определяет уровень логирования
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

// slog не знает уровня FATAL, поэтому он лежит выше ERROR
const slogLevelFatal = slog.LevelError + 4

// String возвращает имя уровня
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return slogLevelFatal
	default:
		return slog.LevelInfo
	}
}

// ParseLevel разбирает уровень логирования из строки (debug, info, warn, error)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Format определяет формат вывода
type Format string

const (
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
)

// Options настройки логгера
type Options struct {
	Level  LogLevel
	Format Format
	Output io.Writer
}

// Logger представляет структурированный логгер поверх slog
type Logger struct {
	level   *slog.LevelVar
	handler slog.Handler
}

// New создает новый логгер с цветным выводом в stdout
func New(level LogLevel) *Logger {
	return NewWithOptions(Options{Level: level, Format: FormatPretty, Output: os.Stdout})
}

// NewWithOptions создает логгер с заданным форматом и выводом
func NewWithOptions(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	lv := &slog.LevelVar{}
	lv.Set(opts.Level.slogLevel())

	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{
			AddSource:   true,
			Level:       lv,
			ReplaceAttr: replaceLevelName,
		})
	default:
		h = newPrettyHandler(out, lv)
	}

	return &Logger{level: lv, handler: h}
}

// NewNop создает логгер, который ничего не пишет (для тестов)
func NewNop() *Logger {
	return NewWithOptions(Options{Level: LevelFatal, Format: FormatJSON, Output: io.Discard})
}

// SetLevel устанавливает уровень логирования
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// Debug записывает debug сообщение
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(LevelDebug, msg, fields...)
}

// Info записывает info сообщение
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(LevelInfo, msg, fields...)
}

// Warn записывает warning сообщение
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(LevelWarn, msg, fields...)
}

// Error записывает error сообщение
func (l *Logger) Error(msg string, fields ...Field) {
	l.log(LevelError, msg, fields...)
}

// Fatal записывает fatal сообщение и завершает программу
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(LevelFatal, msg, fields...)
	os.Exit(1)
}

// WithFields возвращает логгер с предустановленными полями
func (l *Logger) WithFields(fields ...Field) *Logger {
	return &Logger{
		level:   l.level,
		handler: l.handler.WithAttrs(toAttrs(fields)),
	}
}

// Slog возвращает *slog.Logger с тем же обработчиком
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.handler)
}

// log выполняет фактическое логирование
func (l *Logger) log(level LogLevel, msg string, fields ...Field) {
	ctx := context.Background()
	lvl := level.slogLevel()
	if !l.handler.Enabled(ctx, lvl) {
		return
	}

	// Пропускаем runtime.Callers, log и публичный метод
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(toAttrs(fields)...)
	_ = l.handler.Handle(ctx, r)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, f.attr())
	}
	return attrs
}

func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(slogLevelName(lvl))
		}
	}
	return a
}

func slogLevelName(lvl slog.Level) string {
	switch {
	case lvl >= slogLevelFatal:
		return levelNames[LevelFatal]
	case lvl >= slog.LevelError:
		return levelNames[LevelError]
	case lvl >= slog.LevelWarn:
		return levelNames[LevelWarn]
	case lvl >= slog.LevelInfo:
		return levelNames[LevelInfo]
	default:
		return levelNames[LevelDebug]
	}
}

// getShortFileName возвращает короткое имя файла
func getShortFileName(file string) string {
	parts := strings.Split(file, "/")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return file
}

// Field представляет поле логирования
type Field struct {
	Key   string
	Value interface{}
}

// String возвращает строковое представление поля
func (f Field) String() string {
	return fmt.Sprintf("%s=%v", f.Key, f.Value)
}

func (f Field) attr() slog.Attr {
	if err, ok := f.Value.(error); ok {
		return slog.String(f.Key, err.Error())
	}
	return slog.Any(f.Key, f.Value)
}

// Вспомогательные функции для создания полей
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Глобальный логгер по умолчанию
var defaultLogger = New(LevelInfo)

// Default возвращает глобальный логгер
func Default() *Logger {
	return defaultLogger
}

// SetDefault заменяет глобальный логгер
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Глобальные функции логирования
func Debug(msg string, fields ...Field) {
	defaultLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

func ErrorLog(msg string, fields ...Field) {
	defaultLogger.Error(msg, fields...)
}

func Fatal(msg string, fields ...Field) {
	defaultLogger.Fatal(msg, fields...)
}

func SetLevel(level LogLevel) {
	defaultLogger.SetLevel(level)
}
