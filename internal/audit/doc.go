// Package audit relays security events to a sink without blocking the
// request path.
//
// Sinks: [NoOpSink], [ChannelSink] (tests), [JSONWriterSink] (one JSON object
// per line), [LogrusSink]. [Dispatcher] buffers events and either drops or
// blocks when the buffer is full.
//
// Which events exist and when they fire is decided by the engine.
package audit
