//go:build integration

package jetstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/citystreams/natsclient"
	"github.com/c360/citystreams/source"
)

func TestIntegration_PullResumesAfterOffset(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithStream("CITY", "gps_data", "weather_data"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, tc.Publish(ctx, "gps_data", []byte(fmt.Sprintf(`{"n":%d}`, i))))
		require.NoError(t, tc.Publish(ctx, "weather_data", []byte(`{}`)))
	}

	src, err := New(tc.Client, "CITY", nil)
	require.NoError(t, err)

	sub, err := src.Subscribe(ctx, "gps_data", source.Earliest())
	require.NoError(t, err)
	msgs, err := sub.Pull(ctx, 3, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.NoError(t, sub.Close())

	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Offset, msgs[i-1].Offset)
	}
	assert.Equal(t, "gps_data", msgs[0].Topic)
	assert.JSONEq(t, `{"n":0}`, string(msgs[0].Value))

	resumed, err := src.Subscribe(ctx, "gps_data", source.After(msgs[2].Offset))
	require.NoError(t, err)
	defer resumed.Close()

	rest, err := resumed.Pull(ctx, 10, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.JSONEq(t, `{"n":3}`, string(rest[0].Value))
	assert.Greater(t, rest[0].Offset, msgs[2].Offset)

	empty, err := resumed.Pull(ctx, 10, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
