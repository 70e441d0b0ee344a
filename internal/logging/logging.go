package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogFilePath returns logsDir/<appName>.<start>.log. One file per process start.
func LogFilePath(logsDir, appName string, start time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, start.Format("20060102_150405")),
	)
}

// OpenLogFile creates logsDir if needed and opens the log file of this
// process start. A file left by a start in the same second is kept as .old.
func OpenLogFile(logsDir, appName string, start time.Time) (*os.File, string, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, "", fmt.Errorf("creating logs dir: %w", err)
	}

	path := LogFilePath(logsDir, appName, start)
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".old"); err != nil {
			return nil, "", fmt.Errorf("rotating log file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, "", fmt.Errorf("opening log file: %w", err)
	}
	return f, path, nil
}
