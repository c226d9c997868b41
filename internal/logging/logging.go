package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds the logger used across the supervisor. Production environments
// (ENVIRONMENT=production) get JSON output for log aggregation; everything
// else gets the human-readable text formatter. The level comes from
// WARDEN_LOG_LEVEL unless verbose forces debug.
func New(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if strings.ToLower(os.Getenv("ENVIRONMENT")) == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level := logrus.InfoLevel
	if raw := os.Getenv("WARDEN_LOG_LEVEL"); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	return log
}

// Component returns a logger entry tagged with the component name.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
