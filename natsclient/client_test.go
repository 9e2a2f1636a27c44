package natsclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/metric"
	"github.com/c360/citystreams/pkg/tlsutil"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.Conn())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTLS(tlsutil.ClientConfig{CertFile: "cert.pem"}))
	require.Error(t, err)
	assert.True(t, cserrors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithReconnectWait(-time.Second))
	require.Error(t, err)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		ConnectionStatus(42): "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestJetStream_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = client.JetStream()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, cserrors.IsTransient(err))

	ctx := context.Background()
	_, err = client.EnsureStream(ctx, "CITY", []string{"vehicle_data"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(100*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = client.WaitForConnection(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))

	err = client.Connect(context.Background())
	assert.True(t, cserrors.IsFatal(err))
}

func TestStatusMetrics(t *testing.T) {
	m := metric.NewMetrics()
	client, err := NewClient("nats://localhost:4222", WithMetrics(m))
	require.NoError(t, err)

	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))

	client.handleReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))

	client.handleDisconnect(nil, errors.New("io"))
	assert.Equal(t, StatusReconnecting, client.Status())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSConnected))
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(fmt.Errorf("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))
	assert.ErrorIs(t, ErrKVKeyNotFound, cserrors.ErrKeyNotFound)

	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(fmt.Errorf("wrapped: %w", ErrKVKeyExists)))
	assert.True(t, IsKVConflictError(errors.New("nats: wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(errors.New("timeout")))

	assert.True(t, isAlreadyExistsError(errors.New("nats: stream name already in use")))
	assert.False(t, isAlreadyExistsError(nil))
}
