package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	for _, typ := range []string{"sign_in", "refresh_both", "sign_out"} {
		d.Emit(context.Background(), Event{EventType: typ, Success: true})
	}

	for _, want := range []string{"sign_in", "refresh_both", "sign_out"} {
		select {
		case ev := <-sink.Events():
			assert.Equal(t, want, ev.EventType)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	require.Nil(t, d)

	// nil dispatcher methods are safe
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	assert.Zero(t, d.Dropped())
}

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestDispatcherDropIfFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "spam"})
	}
	close(sink.release)
	d.Close()

	assert.NotZero(t, d.Dropped())
}

func TestDispatcherCloseDrains(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, NewJSONWriterSink(&buf))
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "sign_up", UserID: "u1", Success: true})
	}
	d.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "sign_up", ev.EventType)
	assert.Equal(t, "u1", ev.UserID)

	d.Emit(context.Background(), Event{EventType: "after_close"})
	assert.NotContains(t, buf.String(), "after_close")
}

func TestLogrusSinkLevels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := NewLogrusSink(logger)

	sink.Emit(context.Background(), Event{EventType: "sign_in", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "sign_in", Error: "invalid_credentials", Metadata: map[string]string{"reason": "mismatch"}})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "u1", entries[0].Data["user_id"])
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, "invalid_credentials", entries[1].Data["error_code"])
	assert.Equal(t, "mismatch", entries[1].Data["meta_reason"])
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) { panic("boom") }

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{})
	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})
	d.Close()

	assert.Equal(t, uint64(2), d.Failed())
}

func TestDispatcherStampsTimestamp(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, Now: func() time.Time { return fixed }}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "sign_up"})
	ev := <-sink.Events()
	assert.Equal(t, fixed, ev.Timestamp)
}
