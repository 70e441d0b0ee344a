package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		appName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			appName: "clanmap",
			want:    filepath.Join("logs", "clanmap.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			appName: "clanmap",
			want:    filepath.Join(".", "logs", "clanmap.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "clanmap"),
			appName: "clanmap",
			want:    filepath.Join("/var", "log", "clanmap", "clanmap.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.appName, start)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenLogFile_KeepsPreviousAsOld(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	f, path, err := OpenLogFile(dir, "clanmap", start)
	require.NoError(t, err)
	assert.Equal(t, LogFilePath(dir, "clanmap", start), path)
	_, err = f.WriteString("first run\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, _, err = OpenLogFile(dir, "clanmap", start)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)
	assert.Equal(t, "first run\n", string(old))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestOpenLogFile_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, _, err := OpenLogFile(filepath.Join(file, "logs"), "clanmap", time.Now())
	assert.Error(t, err)
}
