package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

type LogLevel int32

const (
	LogLevelError LogLevel = iota
	LogLevelWarning
	LogLevelBasic
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarning:
		return "warning"
	case LogLevelBasic:
		return "basic"
	case LogLevelDebug:
		return "debug"
	}
	return strconv.Itoa(int(l))
}

var (
	level  atomic.Int32
	outMux sync.Mutex
	out    io.Writer = os.Stderr
)

func init() {
	level.Store(int32(LogLevelBasic))
}

func SetLevel(l LogLevel) {
	level.Store(int32(l))
}

func GetLevel() LogLevel {
	return LogLevel(level.Load())
}

// SetOutput redirects log lines, returning the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMux.Lock()
	defer outMux.Unlock()
	prev := out
	out = w
	return prev
}

func FromString(s string) LogLevel {
	if numericLogLevel, err := strconv.Atoi(s); err == nil {
		return boundedLogLevel(numericLogLevel)
	}
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError
	case "warning":
		return LogLevelWarning
	case "basic":
		return LogLevelBasic
	case "debug":
		return LogLevelDebug
	}

	return LogLevelBasic
}

func Debugf(format string, args ...any) {
	if GetLevel() >= LogLevelDebug {
		printf(format, args...)
	}
}

func Warningf(format string, args ...any) {
	if GetLevel() >= LogLevelWarning {
		printf(format, args...)
	}
}

func Basicf(format string, args ...any) {
	if GetLevel() >= LogLevelBasic {
		printf(format, args...)
	}
}

func Errorf(format string, args ...any) {
	printf(format, args...)
}

func Fatalf(format string, args ...any) {
	printf(format, args...)
	os.Exit(1)
}

func boundedLogLevel(numericLevel int) LogLevel {
	if numericLevel < 0 {
		return LogLevelError
	}
	if numericLevel > int(LogLevelDebug) {
		return LogLevelDebug
	}
	return LogLevel(numericLevel)
}

func printf(format string, args ...any) {
	line := fmtWithNewline(format, args...)
	outMux.Lock()
	defer outMux.Unlock()
	fmt.Fprint(out, line)
}

func fmtWithNewline(format string, args ...any) string {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		return line + "\n"
	}
	return line
}
