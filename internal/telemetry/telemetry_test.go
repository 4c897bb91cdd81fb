package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	cfg := Config{ServiceName: "kohai"}
	assert.False(t, cfg.Enabled())

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// Instruments from the no-op providers are usable.
	counter, err := Meter("kohai/test").Int64Counter("test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := Tracer("kohai/test").Start(context.Background(), "test")
	span.End()
}

func TestEnabled(t *testing.T) {
	assert.True(t, Config{Endpoint: "localhost:4318"}.Enabled())
}
