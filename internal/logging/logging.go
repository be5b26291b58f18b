// Package logging builds the job logger: nested-format logrus output, to the
// terminal and/or a dated file under the configured log directory.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
)

// New creates a logger at the given level. When logDir is non-empty a
// date-named log file is appended under it; when terminal is true output
// also goes to stdout.
func New(level, logDir string, terminal bool) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	writers := make([]io.Writer, 0, 2)
	if logDir != "" {
		if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		filename := filepath.Join(logDir, time.Now().Format("2006-01-02.log"))
		file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, os.ModePerm)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
	}
	if terminal {
		writers = append(writers, os.Stdout)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(writers...)))

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log, nil
}
