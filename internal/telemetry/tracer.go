package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for the precache gateway's spans.
const (
	// HTTP request attributes.
	AttrHTTPMethod = "http.method"
	AttrHTTPPath   = "http.path"
	AttrHTTPStatus = "http.status_code"
	AttrClientIP   = "client.ip"
	AttrAuthMethod = "auth.method"
	AttrUsername   = "user.name"

	// Data object attributes.
	AttrIrodsPath  = "irobot.irods_path"
	AttrEntryID    = "irobot.entry_id"
	AttrChecksum   = "irobot.checksum"
	AttrSize       = "irobot.size"
	AttrDataType   = "irobot.datatype"
	AttrRangeStart = "irobot.range_start"
	AttrRangeEnd   = "irobot.range_end"

	// Precache manager attributes.
	AttrProcess      = "irobot.process"
	AttrContention   = "irobot.contention"
	AttrEvicted      = "irobot.evicted"
	AttrBudgetBytes  = "irobot.budget_bytes"
	AttrReservedSize = "irobot.reserved_bytes"

	// Remote store attributes.
	AttrRemoteEndpoint = "irobot.remote_endpoint"
)

// Span names. Format: <component>.<operation>.
const (
	SpanHTTPRequest = "http.request"

	SpanDataObjectGet    = "dataobject.get"
	SpanDataObjectReseed = "dataobject.reseed"
	SpanDataObjectDelete = "dataobject.delete"

	SpanManagerAdmit  = "manager.admit"
	SpanManagerFetch  = "manager.fetch"
	SpanManagerEvict  = "manager.evict"
	SpanManagerExpire = "manager.expire"

	SpanChecksumWhole = "checksum.whole"
	SpanChecksumChunk = "checksum.chunk"

	SpanStoreQuery  = "store.query"
	SpanStoreInsert = "store.insert"
	SpanStoreUpdate = "store.update"

	SpanRemoteFetch    = "remote.fetch"
	SpanRemoteMetadata = "remote.metadata"
	SpanRemoteAccess   = "remote.check_access"
)

// HTTPMethod returns an attribute for the request method.
func HTTPMethod(method string) attribute.KeyValue {
	return attribute.String(AttrHTTPMethod, method)
}

// HTTPPath returns an attribute for the request path.
func HTTPPath(path string) attribute.KeyValue {
	return attribute.String(AttrHTTPPath, path)
}

// HTTPStatus returns an attribute for the response status code.
func HTTPStatus(status int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, status)
}

// ClientIP returns an attribute for the client's address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// AuthMethod returns an attribute for the authentication handler that
// authenticated the request.
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuthMethod, method)
}

// Username returns an attribute for the authenticated user.
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// IrodsPath returns an attribute for a data object's remote path.
func IrodsPath(path string) attribute.KeyValue {
	return attribute.String(AttrIrodsPath, path)
}

// EntryID returns an attribute for a tracking-store entry ID.
func EntryID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrEntryID, id)
}

// Checksum returns an attribute for an MD5 checksum.
func Checksum(sum string) attribute.KeyValue {
	return attribute.String(AttrChecksum, sum)
}

// Size returns an attribute for an object's size in bytes.
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// DataType returns an attribute for one of {data, metadata, checksums}.
func DataType(dt string) attribute.KeyValue {
	return attribute.String(AttrDataType, dt)
}

// ByteRange returns attributes for a requested byte range.
func ByteRange(start, end int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrRangeStart, start),
		attribute.Int64(AttrRangeEnd, end),
	}
}

// Process returns an attribute for one of {download, checksum}.
func Process(p string) attribute.KeyValue {
	return attribute.String(AttrProcess, p)
}

// Contention returns an attribute for the number of active readers/writers
// holding an entry.
func Contention(n int) attribute.KeyValue {
	return attribute.Int(AttrContention, n)
}

// Evicted returns an attribute naming an entry evicted to make room for an
// admission.
func Evicted(irodsPath string) attribute.KeyValue {
	return attribute.String(AttrEvicted, irodsPath)
}

// BudgetBytes returns an attribute for the configured precache budget.
func BudgetBytes(bytes int64) attribute.KeyValue {
	return attribute.Int64(AttrBudgetBytes, bytes)
}

// ReservedBytes returns an attribute for bytes currently reserved against
// the budget.
func ReservedBytes(bytes int64) attribute.KeyValue {
	return attribute.Int64(AttrReservedSize, bytes)
}

// RemoteEndpoint returns an attribute for the remote store's address.
func RemoteEndpoint(endpoint string) attribute.KeyValue {
	return attribute.String(AttrRemoteEndpoint, endpoint)
}

// StartHTTPSpan starts the root span for an inbound HTTP request.
func StartHTTPSpan(ctx context.Context, method, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{HTTPMethod(method), HTTPPath(path)}, attrs...)
	return StartSpan(ctx, SpanHTTPRequest, trace.WithAttributes(allAttrs...))
}

// StartManagerSpan starts a span for a precache manager operation, scoped
// to a single tracked path.
func StartManagerSpan(ctx context.Context, spanName, irodsPath string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{IrodsPath(irodsPath)}, attrs...)
	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for a tracking-store statement.
func StartStoreSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, spanName, trace.WithAttributes(attrs...))
}

// StartRemoteSpan starts a span for a remote-store client call.
func StartRemoteSpan(ctx context.Context, spanName, irodsPath string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{IrodsPath(irodsPath)}, attrs...)
	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}
