package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type m = map[string]any

type TestLogWriter struct {
	Logs []string
}

func NewTestLogWriter() *TestLogWriter {
	return &TestLogWriter{Logs: make([]string, 0)}
}

func (tl *TestLogWriter) Write(p []byte) (n int, err error) {
	tl.Logs = append(tl.Logs, string(p))
	return len(p), nil
}

func (tl *TestLogWriter) Reset() {
	tl.Logs = tl.Logs[:0]
}

func newLogger(tl *TestLogWriter) *logrus.Logger {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	}
	l.Out = tl
	return l
}

func TestContextualError_Log(t *testing.T) {
	tl := NewTestLogWriter()
	l := newLogger(tl)

	e := NewContextualError("Failed to open udp listener", m{"port": 4242}, errors.New("in use"))
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"Failed to open udp listener\" error=\"in use\" port=4242\n"}, tl.Logs)

	tl.Reset()
	NewContextualError("Failed to open udp listener", nil, errors.New("in use")).Log(l)
	assert.Equal(t, []string{"level=error msg=\"Failed to open udp listener\" error=\"in use\"\n"}, tl.Logs)

	tl.Reset()
	NewContextualError("bad mtu", m{"mtu": 10}, nil).Log(l)
	assert.Equal(t, []string{"level=error msg=\"bad mtu\" mtu=10\n"}, tl.Logs)

	tl.Reset()
	NewContextualError("", nil, errors.New("error")).Log(l)
	assert.Equal(t, []string{"level=error error=error\n"}, tl.Logs)
}

func TestContextualError_Error(t *testing.T) {
	inner := errors.New("in use")
	e := NewContextualError("listen", m{"port": 1}, inner)
	assert.Equal(t, "listen (map[port:1]): in use", e.Error())
	assert.ErrorIs(t, e, inner)

	assert.Equal(t, "listen: in use", NewContextualError("listen", nil, inner).Error())
	assert.Equal(t, "listen", NewContextualError("listen", nil, nil).Error())
}

func TestLogWithContextIfNeeded(t *testing.T) {
	tl := NewTestLogWriter()
	l := newLogger(tl)

	e := NewContextualError("test message", m{"field": "1"}, errors.New("error"))
	LogWithContextIfNeeded("This should get thrown away", e, l)
	assert.Equal(t, []string{"level=error msg=\"test message\" error=error field=1\n"}, tl.Logs)

	// wrapped contextual errors are still found
	tl.Reset()
	LogWithContextIfNeeded("This should get thrown away", fmt.Errorf("main: %w", e), l)
	assert.Equal(t, []string{"level=error msg=\"test message\" error=error field=1\n"}, tl.Logs)

	tl.Reset()
	LogWithContextIfNeeded("Fallback context", errors.New("this is a normal error"), l)
	assert.Equal(t, []string{"level=error msg=\"Fallback context\" error=\"this is a normal error\"\n"}, tl.Logs)
}

func TestContextualizeIfNeeded(t *testing.T) {
	e := NewContextualError("test message", m{"field": "1"}, errors.New("error"))
	assert.Same(t, e, ContextualizeIfNeeded("should be ignored", e))

	err := errors.New("this is a normal error")
	var ce *ContextualError
	if assert.ErrorAs(t, ContextualizeIfNeeded("Fallback context", err), &ce) {
		assert.Equal(t, err, ce.RealError)
		assert.Equal(t, "Fallback context", ce.Context)
	}
}
