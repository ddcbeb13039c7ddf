// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup applies level and format ("json" or "text") to the standard logger.
// An unknown level falls back to info.
func Setup(out io.Writer, level, format string) {
	if out != nil {
		log.SetOutput(out)
	}
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
