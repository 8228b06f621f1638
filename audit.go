package authgate

import (
	"io"

	"github.com/MrEthical07/authgate/internal/audit"
	"github.com/sirupsen/logrus"
)

// AuditEvent is one security-relevant record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from a single background goroutine.
type AuditSink = audit.Sink

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel; useful in tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// LogrusSink writes events as structured log entries.
type LogrusSink = audit.LogrusSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink { return audit.NewLogrusSink(log) }
