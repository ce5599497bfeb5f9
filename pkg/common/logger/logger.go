package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is usable before Init; Init switches it to JSON output at LOG_LEVEL.
var Log = logrus.New()

func Init() {
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// Stage returns an entry tagged with the pipeline stage and run id.
func Stage(stage, runID string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"stage":  stage,
		"run_id": runID,
	})
}
