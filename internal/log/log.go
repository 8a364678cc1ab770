package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the global logger.
type Options struct {
	Level  Level
	Format string // "json" (default) or "console"
	Output io.Writer
}

var (
	mu     sync.RWMutex
	logger zerolog.Logger
)

func init() {
	Configure(Options{Level: LevelInfo})
}

// Configure replaces the global logger. Safe to call more than once.
func Configure(opts Options) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	out := opts.Output
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: opts.Output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(out).With().Timestamp().Logger().Level(toZerolog(opts.Level))

	mu.Lock()
	logger = l
	mu.Unlock()
}

func SetLevel(l Level) {
	mu.Lock()
	logger = logger.Level(toZerolog(l))
	mu.Unlock()
}

// ParseLevel maps a config string onto a Level; unknown values yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	emit(current().Debug(), msg, kv...)
}

func Info(msg string, kv ...any) {
	emit(current().Info(), msg, kv...)
}

func Warn(msg string, kv ...any) {
	emit(current().Warn(), msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	emit(current().Error().Err(err), msg, kv...)
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func emit(ev *zerolog.Event, msg string, kv ...any) {
	if ev == nil {
		return
	}
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		ev = ev.Interface(key, kv[i+1])
	}
	// If odd number of args, last one is ignored.
	ev.Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
