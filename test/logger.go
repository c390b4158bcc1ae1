package test

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that is silent unless TEST_LOGS is set.
// TEST_LOGS=1 logs at info, 2 at debug and 3 at trace.
func NewLogger() *logrus.Logger {
	l := logrus.New()

	switch os.Getenv("TEST_LOGS") {
	case "":
		l.SetOutput(io.Discard)
	case "2":
		l.SetLevel(logrus.DebugLevel)
	case "3":
		l.SetLevel(logrus.TraceLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	return l
}

// LogWriter collects every formatted log line written to it
type LogWriter struct {
	sync.Mutex
	Logs []string
}

func (lw *LogWriter) Write(p []byte) (int, error) {
	lw.Lock()
	lw.Logs = append(lw.Logs, string(p))
	lw.Unlock()
	return len(p), nil
}

func (lw *LogWriter) Lines() []string {
	lw.Lock()
	defer lw.Unlock()
	return append([]string(nil), lw.Logs...)
}

// NewCapturingLogger returns a debug level, timestamp free text logger writing into the returned LogWriter
func NewCapturingLogger() (*logrus.Logger, *LogWriter) {
	lw := &LogWriter{}
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}
	l.Out = lw
	return l, lw
}
