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

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, zerolog.InfoLevel)
)

func newLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: !isTerminal(w)}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// SetLevel accepts "debug", "info", "warn" or "error" (any case). Unknown
// values fall back to info.
func SetLevel(l string) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Level(parseLevel(l))
}

// SetOutput redirects all subsequent log lines to w, keeping the current level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, logger.GetLevel())
}

func parseLevel(l string) zerolog.Level {
	switch Level(strings.ToUpper(strings.TrimSpace(l))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn, "WARNING":
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
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
	l := logger
	mu.RUnlock()
	return &l
}

// emit expects kv as pairs: key, value, key, value, ...
// A trailing key without value is ignored.
func emit(ev *zerolog.Event, msg string, kv ...any) {
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		case time.Time:
			ev = ev.Time(key, v)
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Str(key, v.String())
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
