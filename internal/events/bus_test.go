package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishDispatchesByType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var factorEvents []*Event
	_ = bus.Subscribe(FactorFileGenerated, func(e *Event) {
		factorEvents = append(factorEvents, e)
	})

	bus.Publish(&Event{Type: FactorFileGenerated, Module: "factors"})
	bus.Publish(&Event{Type: MapFileGenerated, Module: "mapfiles"})

	require.Len(t, factorEvents, 1)
	assert.Equal(t, "factors", factorEvents[0].Module)
	assert.NotEmpty(t, factorEvents[0].ID)
	assert.False(t, factorEvents[0].Timestamp.IsZero())
}

func TestManagerEmitTyped(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	manager := NewManager(bus, zerolog.Nop())

	var got *Event
	_ = bus.Subscribe(MapFileGenerated, func(e *Event) { got = e })

	manager.EmitTyped("mapfiles", &ArtifactGeneratedData{Kind: "map", Ticker: "META", Rows: 3})

	require.NotNil(t, got)
	payload, ok := got.Data["payload"].(*ArtifactGeneratedData)
	require.True(t, ok)
	assert.Equal(t, "META", payload.Ticker)
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(JobProgress, "test", nil)
		m.EmitTyped("test", &CoarseGeneratedData{Date: "20240102"})
	})
}
