package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so aggregation/querying stays uniform.
const (
	// Distributed tracing
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyRequestID = "request_id"

	// HTTP request
	KeyMethod    = "method"
	KeyPath      = "path"
	KeyStatus    = "status"
	KeyClientIP  = "client_ip"
	KeyUser      = "user"
	KeyAuth      = "auth_handler"
	KeyDurationMs = "duration_ms"

	// Data object / precache
	KeyEntryID   = "entry_id"
	KeyDataType  = "datatype"
	KeyOldStatus = "old_status"
	KeyNewStatus = "new_status"
	KeySize      = "size"
	KeyRangeStart = "range_start"
	KeyRangeEnd   = "range_end"
	KeyChecksum  = "checksum"
	KeyProcess   = "process"

	// Operational metadata
	KeyError     = "error"
	KeyAttempt   = "attempt"
	KeyComponent = "component"
)

// TraceID returns a slog.Attr for the OpenTelemetry trace ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for the OpenTelemetry span ID.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// RequestID returns a slog.Attr for the per-request correlation ID.
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// Path returns a slog.Attr for a data-object path.
func Path(path string) slog.Attr { return slog.String(KeyPath, path) }

// Err returns a slog.Attr wrapping an error's message, or a no-op attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Entry returns a slog.Attr for a tracking-store entry ID.
func Entry(id int64) slog.Attr { return slog.Int64(KeyEntryID, id) }

// DataType returns a slog.Attr for one of {data, metadata, checksums}.
func DataType(dt string) slog.Attr { return slog.String(KeyDataType, dt) }

// StatusTransition returns key/value args describing an old->new status change.
func StatusTransition(old, new string) []any {
	return []any{KeyOldStatus, old, KeyNewStatus, new}
}
