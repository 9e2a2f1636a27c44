package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstructors(t *testing.T) {
	h := NewHealthy("vehicle", "running")
	assert.True(t, h.IsHealthy())
	assert.True(t, h.Healthy)
	assert.False(t, h.Timestamp.IsZero())

	d := NewDegraded("gps", "starting")
	assert.True(t, d.IsDegraded())
	assert.False(t, d.Healthy)

	u := NewUnhealthy("weather", "failed")
	assert.True(t, u.IsUnhealthy())
	assert.False(t, u.Healthy)
}

func TestFromError_Sanitizes(t *testing.T) {
	s := FromError("traffic", errors.New("put /data/traffic_data/batch-1.avro: permission denied"))
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "put [PATH]: permission denied", s.Message)

	assert.Equal(t, "failed", FromError("traffic", nil).Message)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"one unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Aggregate("citystreams", tt.subs)
			assert.Equal(t, tt.expected, result.Status)
			assert.Len(t, result.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	result := Aggregate("citystreams", subs)

	subs[0].Status = StateUnhealthy
	assert.Equal(t, StateHealthy, result.SubStatuses[0].Status)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"unix path", "failed to open /var/lib/citystreams/checkpoints/gps_data/checkpoint.json", "failed to open [PATH]"},
		{"http url", "connection failed to https://api.example.com/v1/health", "connection failed to [URL]"},
		{"nats url", "cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"ip address", "timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"port", "failed to bind to :8080", "failed to bind to [PORT]"},
		{"credentials", "auth failed with password:secretpass123", "auth failed with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}
