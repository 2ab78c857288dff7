package tools

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds a JSON logger that records everything we log to stdout
// and, when path is set, to an append-only log file.
func NewLogger(level logrus.Level, path string) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.SetLevel(level)
	if path == "" {
		l.SetOutput(os.Stdout)
		return l, nopCloser{}, nil
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %w", err)
	}
	l.SetOutput(io.MultiWriter(logFile, os.Stdout))
	return l, logFile, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
