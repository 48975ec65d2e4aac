package version

import (
	"testing"

	"github.com/google/uuid"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	if info.Version == "" || info.GitCommit == "" || info.BuildDate == "" {
		t.Errorf("build fields should default to non-empty values, got %+v", info)
	}
	if _, err := uuid.Parse(info.InstanceID); err != nil {
		t.Errorf("InstanceID should be a UUID, got %q: %v", info.InstanceID, err)
	}
	if info.Hostname == "" {
		t.Error("Hostname should not be empty")
	}

	again := GetInfo()
	if info.InstanceID != again.InstanceID {
		t.Errorf("InstanceID should be cached, got %s then %s", info.InstanceID, again.InstanceID)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		expected string
	}{
		{
			name:     "release",
			info:     Info{Version: "v0.3.0", GitCommit: "abc1234", BuildDate: "2026-02-21T10:00:00Z"},
			expected: "chii v0.3.0 (commit abc1234, built 2026-02-21T10:00:00Z)",
		},
		{
			name:     "unknown values",
			info:     Info{Version: "unknown", GitCommit: "unknown", BuildDate: "unknown"},
			expected: "chii unknown (commit unknown, built unknown)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestHostname(t *testing.T) {
	if hostname() == "" {
		t.Error("hostname() should return non-empty string")
	}
}
