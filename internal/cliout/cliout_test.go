package cliout

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/substratehq/substrate/internal/eventbus"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestEncoder_EmitWritesOneLineEnvelope(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "run").WithClock(fixedClock(time.Unix(0, 0)))

	require.NoError(t, enc.Emit(map[string]any{"run_id": "abc"}))

	var env Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	require.True(t, env.Success)
	require.Equal(t, "run", env.Command)
	require.Equal(t, Version, env.Version)
	require.NotEmpty(t, env.Timestamp)
}

func TestEncoder_EmitErrorSetsSuccessFalse(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "graph validate").WithClock(fixedClock(time.Now()))

	require.NoError(t, enc.EmitError(errors.New("dangling reference")))

	var env Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	require.False(t, env.Success)
	require.Equal(t, "dangling reference", env.Error)
	require.Nil(t, env.Data)
}

func TestEncoder_MultipleEmitsProduceOnePerLine(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "run").WithClock(fixedClock(time.Now()))

	require.NoError(t, enc.Emit(map[string]any{"n": 1}))
	require.NoError(t, enc.Emit(map[string]any{"n": 2}))

	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		lines++
		var env Envelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
	}
	require.Equal(t, 2, lines)
}

func TestEncoder_SubscribeStreamsTaskEvents(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "run").WithClock(fixedClock(time.Now()))
	bus := eventbus.New()
	enc.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.TaskRouted, Data: map[string]any{"task_id": "t1", "agent": "claude-code"}})
	bus.Publish(eventbus.Event{Type: eventbus.TaskCompleted, Data: map[string]any{"task_id": "t1"}})

	scanner := bufio.NewScanner(&buf)
	var envs []Envelope
	for scanner.Scan() {
		var env Envelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		envs = append(envs, env)
	}
	require.Len(t, envs, 2)
	require.True(t, envs[0].Success)
}

func TestEncoder_UnsubscribedEventTypesAreIgnored(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "run").WithClock(fixedClock(time.Now()))
	bus := eventbus.New()
	enc.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: map[string]any{"changed_path": "x"}})

	require.Empty(t, buf.String(), "config reload events are not part of the run output stream")
}
