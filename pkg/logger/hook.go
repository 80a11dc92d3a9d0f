package logger

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusContextHook добавляет к предупреждениям и ошибкам место вызова
type LogrusContextHook struct{}

// Levels уровни, на которых срабатывает хук
func (hook LogrusContextHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

// Fire заполняет поле source
func (hook LogrusContextHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["source"]; ok {
		return nil
	}
	if src := caller(); src != "" {
		entry.Data["source"] = src
	}
	return nil
}

// Первый кадр стека вне logrus и хука
func caller() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "github.com/sirupsen/logrus") &&
			!strings.Contains(frame.Function, "LogrusContextHook") && !strings.HasSuffix(frame.Function, "logger.caller") {
			return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
		if !more {
			return ""
		}
	}
}
