package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// capture routes log output to a buffer with a stable text format
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	})
	log.SetLevel(logrus.DebugLevel)
	return &buf
}

func TestInit(t *testing.T) {
	tests := map[string]struct {
		level       string
		want        logrus.Level
		expectError bool
	}{
		"debug":   {level: "debug", want: logrus.DebugLevel},
		"warn":    {level: "warn", want: logrus.WarnLevel},
		"error":   {level: "error", want: logrus.ErrorLevel},
		"invalid": {level: "verbose", expectError: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := Init(tt.level)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if log.GetLevel() != tt.want {
				t.Errorf("Level = %v, want %v", log.GetLevel(), tt.want)
			}
		})
	}
}

func TestLevels(t *testing.T) {
	buf := capture(t)

	tests := map[string]struct {
		log      func()
		message  string
		level    string
		contains []string
	}{
		"debug": {
			log:     func() { Debug("Fetching block children") },
			message: "Fetching block children",
			level:   "debug",
		},
		"info with fields": {
			log: func() {
				Info("Job started", map[string]interface{}{"kind": "snapshot", "job_id": "j1"})
			},
			message:  "Job started",
			level:    "info",
			contains: []string{"kind=snapshot", "job_id=j1"},
		},
		"warn": {
			log:      func() { Warn("Skipping restore that already finished", map[string]interface{}{"restore_id": "r1"}) },
			message:  "Skipping restore that already finished",
			level:    "warning",
			contains: []string{"restore_id=r1"},
		},
		"error without fields": {
			log:      func() { Error("Snapshot failed", errors.New("missing notion credential")) },
			message:  "Snapshot failed",
			level:    "error",
			contains: []string{`error="missing notion credential"`},
		},
		"error with nil fields": {
			log:      func() { Error("Failed to read record", errors.New("disk full"), nil) },
			message:  "Failed to read record",
			level:    "error",
			contains: []string{`error="disk full"`},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			buf.Reset()
			tt.log()

			output := buf.String()
			if !strings.Contains(output, "level="+tt.level) {
				t.Errorf("Expected level %s in output: %s", tt.level, output)
			}
			if !strings.Contains(output, tt.message) {
				t.Errorf("Expected message %q in output: %s", tt.message, output)
			}
			for _, want := range tt.contains {
				if !strings.Contains(output, want) {
					t.Errorf("Expected %s in output: %s", want, output)
				}
			}
		})
	}
}

func TestLevelFilter(t *testing.T) {
	buf := capture(t)
	log.SetLevel(logrus.WarnLevel)

	Info("Queue consumer started")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got %s", buf.String())
	}
	Warn("Discarding job after too many attempts")
	if !strings.Contains(buf.String(), "Discarding job") {
		t.Errorf("Expected warning in output: %s", buf.String())
	}
}

func TestSetFormat(t *testing.T) {
	tests := map[string]struct {
		format      string
		expectError bool
	}{
		"default": {format: ""},
		"text":    {format: "text"},
		"json":    {format: "json"},
		"unknown": {format: "xml", expectError: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := SetFormat(tt.format)
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	if err := SetFormat("json"); err != nil {
		t.Fatalf("SetFormat() error = %v", err)
	}
	log.SetLevel(logrus.InfoLevel)

	Info("snapshot completed", map[string]interface{}{
		"snapshot_id": "snap-1",
	})

	output := buf.String()
	if !strings.Contains(output, `"snapshot_id":"snap-1"`) {
		t.Errorf("Expected snapshot_id field in JSON output: %s", output)
	}
	if !strings.Contains(output, `"level":"info"`) {
		t.Errorf("Expected info level in JSON output: %s", output)
	}
}
