package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultStateDir(t *testing.T) {
	t.Run("HonorsXDGStateHome", func(t *testing.T) {
		t.Setenv("XDG_STATE_HOME", "/custom/state")
		assert.Equal(t, filepath.Join("/custom/state", "irobot"), GetDefaultStateDir())
	})

	t.Run("FallsBackToHomeDotLocalState", func(t *testing.T) {
		t.Setenv("XDG_STATE_HOME", "")
		t.Setenv("HOME", "/home/operator")
		assert.Equal(t, filepath.Join("/home/operator", ".local", "state", "irobot"), GetDefaultStateDir())
	})
}

func TestGetDefaultPidFile(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	assert.Equal(t, filepath.Join("/custom/state", "irobot", "irobot.pid"), GetDefaultPidFile())
}

func TestGetDefaultLogFile(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	assert.Equal(t, filepath.Join("/custom/state", "irobot", "irobot.log"), GetDefaultLogFile())
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{"zero", 0, "-"},
		{"negative", -5, "-"},
		{"bytes", 512, "512B"},
		{"kibibytes", 2048, "2.0KiB"},
		{"mebibytes", 5 * 1024 * 1024, "5.0MiB"},
		{"gibibytes", 3 * 1024 * 1024 * 1024, "3.0GiB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatSize(tt.input))
		})
	}
}
