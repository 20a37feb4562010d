package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/hplc-pump/internal/pump"
)

func TestNewPublisherUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// port 1 is reserved and refuses connections
	_, err := NewPublisher(ctx, Config{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestHistoryKey(t *testing.T) {
	assert.Equal(t, "hplc:/dev/ttyUSB0:status", HistoryKey("/dev/ttyUSB0"))
}

func TestMessageJSON(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(Message{
		Pump:   "demo",
		Status: &pump.Status{Stamp: stamp, Pressure: 1200, Units: "psi", Running: true},
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "demo", out["pump"])
	status := out["status"].(map[string]any)
	assert.Equal(t, 1200.0, status["pressure"])
	assert.Equal(t, true, status["running"])
	assert.Equal(t, "2024-05-01T12:00:00Z", status["stamp"])
}
